package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ws-dispatch/pkg/commsutil"
	"github.com/morezero/ws-dispatch/pkg/dispatcher"
)

const commsLogPrefix = "server:comms"

// commsConn identifies a COMMS request by its reply inbox.
type commsConn struct {
	reply string
}

func (c commsConn) ID() string         { return "comms:" + c.reply }
func (c commsConn) RemoteAddr() string { return "" }

func (s *Server) subscribeDispatch() error {
	sub, err := s.nc.Subscribe(s.cfg.DispatchSubject, s.handleCommsMessage)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, s.cfg.DispatchSubject, err)
	}
	s.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s (%s)", commsLogPrefix, s.cfg.DispatchSubject, s.codec.Name()))
	return nil
}

// handleCommsMessage runs each request on its own goroutine so a slow
// handler does not block the subscription.
func (s *Server) handleCommsMessage(m *comms.Msg) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		resp := s.dispatchComms(m)
		if m.Reply == "" {
			return
		}
		data, err := s.codec.Encode(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
			return
		}
		if err := m.Respond(data); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to respond: %v", commsLogPrefix, err))
		}
	}()
}

func (s *Server) dispatchComms(m *comms.Msg) *dispatcher.Response {
	raw, err := commsutil.ToJSON(s.codec, m.Data)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to decode %s payload: %v", commsLogPrefix, s.codec.Name(), err))
		return malformedResponse()
	}
	var msg dispatcher.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to decode request: %v", commsLogPrefix, err))
		return malformedResponse()
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()

	reqCtx := &dispatcher.RequestContext{Transport: "comms", Header: http.Header(m.Header)}
	return s.disp.Process(ctx, &msg, commsConn{reply: m.Reply}, reqCtx)
}

func malformedResponse() *dispatcher.Response {
	return &dispatcher.Response{Error: &dispatcher.ErrorBody{Code: CodeMalformed, Message: "Malformed message"}}
}
