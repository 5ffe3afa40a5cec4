package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/ws-dispatch/pkg/dispatcher"
)

const wsLogPrefix = "server:websocket"

const (
	writeWait = 10 * time.Second
	// CodeMalformed is sent for frames that are not a JSON message envelope.
	CodeMalformed = 400
)

var connSeq atomic.Uint64

// wsConn is one WebSocket session. gorilla connections allow one concurrent
// writer, so writes are serialized.
type wsConn struct {
	id     string
	remote string
	ws     *websocket.Conn
	mu     sync.Mutex
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.mu.Unlock()
	c.ws.Close()
}

func requestContextFrom(r *http.Request, transport string) *dispatcher.RequestContext {
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return &dispatcher.RequestContext{
		Transport:  transport,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
		Cookies:    cookies,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - upgrade failed from %s: %v", wsLogPrefix, r.RemoteAddr, err))
		return
	}

	conn := &wsConn{
		id:     fmt.Sprintf("ws-%d", connSeq.Add(1)),
		remote: r.RemoteAddr,
		ws:     ws,
	}
	reqCtx := requestContextFrom(r, "websocket")
	limiter := newConnLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	s.inflight.Add(1)
	s.wsConns.Store(conn.id, conn)
	ctx, cancel := context.WithCancel(s.baseCtx)
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		ws.Close()
		s.wsConns.Delete(conn.id)
		s.inflight.Done()
		slog.Debug(fmt.Sprintf("%s - %s closed (%d messages rate limited)", wsLogPrefix, conn.id, limiter.dropped))
	}()
	slog.Debug(fmt.Sprintf("%s - %s opened from %s", wsLogPrefix, conn.id, conn.remote))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn(fmt.Sprintf("%s - %s read failed: %v", wsLogPrefix, conn.id, err))
			}
			return
		}

		var msg dispatcher.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reject(conn, 0, CodeMalformed, "Malformed message")
			continue
		}
		if !limiter.allow() {
			s.reject(conn, msg.ID, CodeTooManyRequests, "Too many requests")
			continue
		}

		pending.Add(1)
		go func() {
			defer pending.Done()
			msgCtx, cancelMsg := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancelMsg()

			resp := s.disp.Process(msgCtx, &msg, conn, reqCtx)
			if err := conn.writeJSON(resp); err != nil {
				slog.Debug(fmt.Sprintf("%s - %s write failed: %v", wsLogPrefix, conn.id, err))
			}
		}()
	}
}

func (s *Server) reject(conn *wsConn, id int64, code int, message string) {
	resp := &dispatcher.Response{ID: id, Error: &dispatcher.ErrorBody{Code: code, Message: message}}
	if err := conn.writeJSON(resp); err != nil {
		slog.Debug(fmt.Sprintf("%s - %s write failed: %v", wsLogPrefix, conn.id, err))
	}
}

func (s *Server) closeWebSockets() {
	s.wsConns.Range(func(_, v interface{}) bool {
		v.(*wsConn).close(websocket.CloseGoingAway, "server shutting down")
		return true
	})
}
