package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/ws-dispatch/internal/config"
	"github.com/morezero/ws-dispatch/pkg/builtin"
	"github.com/morezero/ws-dispatch/pkg/catalog"
	"github.com/morezero/ws-dispatch/pkg/db"
	"github.com/morezero/ws-dispatch/pkg/dispatcher"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const serverTestPrefix = "server:server_test"

func testConfig() *config.Config {
	return &config.Config{
		WSAddr:             "127.0.0.1:0",
		WSPath:             "/ws",
		DispatchSubject:    "rpc.dispatch",
		WireCodec:          "json",
		RequestTimeout:     5 * time.Second,
		HealthCheckTimeout: 5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		MaxMessageBytes:    1 << 16,
		MetricsEnabled:     true,
		LogLevel:           "error",
	}
}

var echoSchema = schema.Descriptor{
	"type":       "object",
	"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
	"required":   []interface{}{"text"},
}

func echoHandler(_ context.Context, msg *dispatcher.Message, _ dispatcher.Connection, _ *dispatcher.RequestContext) (dispatcher.Outcome, error) {
	var p map[string]interface{}
	if err := msg.Bind(&p); err != nil {
		return dispatcher.Outcome{}, err
	}
	return dispatcher.Ok(p), nil
}

// newTestServer builds a Server with an echo method and serves its handler
// from httptest.
func newTestServer(t *testing.T, cfg *config.Config, params NewServerParams) (*Server, *httptest.Server) {
	t.Helper()
	params.Config = cfg
	s, err := New(context.Background(), params)
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	s.Dispatcher().Register("echo", echoHandler, schema.Pair{Request: echoSchema, Response: echoSchema})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("%s - dial failed: %v", serverTestPrefix, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("%s - expected 101, got %d", serverTestPrefix, resp.StatusCode)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, raw string) map[string]interface{} {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("%s - write failed: %v", serverTestPrefix, err)
	}
	return readResponse(t, ws)
}

func readResponse(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp map[string]interface{}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("%s - read failed: %v", serverTestPrefix, err)
	}
	return resp
}

func TestWebSocket_EchoAndNotFound(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), NewServerParams{})
	ws := dialWS(t, ts, nil)

	resp := roundTrip(t, ws, `{"id":1,"type":"request","method":"echo","params":{"text":"hi","extra":true}}`)
	if resp["id"] != float64(1) || resp["method"] != "echo" {
		t.Errorf("%s - unexpected envelope %v", serverTestPrefix, resp)
	}
	result, _ := resp["result"].(map[string]interface{})
	if result["text"] != "hi" || len(result) != 1 {
		t.Errorf("%s - expected {text:hi}, got %v", serverTestPrefix, resp["result"])
	}

	resp = roundTrip(t, ws, `{"id":2,"method":"missing"}`)
	errBody, _ := resp["error"].(map[string]interface{})
	if resp["id"] != float64(2) || errBody["code"] != float64(404) || errBody["message"] != "Method missing not found" {
		t.Errorf("%s - unexpected not-found response %v", serverTestPrefix, resp)
	}
}

func TestWebSocket_MalformedFrame(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), NewServerParams{})
	ws := dialWS(t, ts, nil)

	resp := roundTrip(t, ws, `not json`)
	errBody, _ := resp["error"].(map[string]interface{})
	if resp["id"] != float64(0) || errBody["code"] != float64(CodeMalformed) {
		t.Errorf("%s - unexpected malformed response %v", serverTestPrefix, resp)
	}

	resp = roundTrip(t, ws, `{"id":3,"method":"rpc.ping"}`)
	if resp["error"] != nil {
		t.Errorf("%s - connection should stay usable, got %v", serverTestPrefix, resp)
	}
}

func TestWebSocket_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	_, ts := newTestServer(t, cfg, NewServerParams{})
	ws := dialWS(t, ts, nil)

	for _, raw := range []string{`{"id":1,"method":"rpc.ping"}`, `{"id":2,"method":"rpc.ping"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("%s - write failed: %v", serverTestPrefix, err)
		}
	}

	byID := map[float64]map[string]interface{}{}
	for i := 0; i < 2; i++ {
		resp := readResponse(t, ws)
		byID[resp["id"].(float64)] = resp
	}
	if byID[1]["error"] != nil {
		t.Errorf("%s - first message should pass, got %v", serverTestPrefix, byID[1])
	}
	errBody, _ := byID[2]["error"].(map[string]interface{})
	if errBody["code"] != float64(CodeTooManyRequests) {
		t.Errorf("%s - expected 429 for second message, got %v", serverTestPrefix, byID[2])
	}
}

func TestWebSocket_ReadLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 64
	_, ts := newTestServer(t, cfg, NewServerParams{})
	ws := dialWS(t, ts, nil)

	big := `{"id":1,"method":"echo","params":{"text":"` + strings.Repeat("x", 256) + `"}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("%s - write failed: %v", serverTestPrefix, err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Errorf("%s - expected the connection to be closed", serverTestPrefix)
	}
}

func TestWebSocket_RequestContext(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), NewServerParams{})
	s.Dispatcher().Register("whoami", func(_ context.Context, _ *dispatcher.Message, conn dispatcher.Connection, req *dispatcher.RequestContext) (dispatcher.Outcome, error) {
		return dispatcher.OkWithCookies(map[string]interface{}{
			"transport": req.Transport,
			"session":   req.Cookies["session"],
			"conn":      conn.ID(),
		}, map[string]interface{}{"seen": true}), nil
	}, schema.Pair{})

	ws := dialWS(t, ts, http.Header{"Cookie": []string{"session=abc"}})
	resp := roundTrip(t, ws, `{"id":9,"method":"whoami"}`)
	result, _ := resp["result"].(map[string]interface{})
	if result["transport"] != "websocket" || result["session"] != "abc" {
		t.Errorf("%s - unexpected request context %v", serverTestPrefix, result)
	}
	if conn, _ := result["conn"].(string); !strings.HasPrefix(conn, "ws-") {
		t.Errorf("%s - unexpected connection id %v", serverTestPrefix, result["conn"])
	}
	if cookies, _ := resp["cookies"].(map[string]interface{}); cookies["seen"] != true {
		t.Errorf("%s - expected cookies in response, got %v", serverTestPrefix, resp["cookies"])
	}
}

func TestWebSocket_ShutdownClosesConnections(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), NewServerParams{})
	ws := dialWS(t, ts, nil)
	roundTrip(t, ws, `{"id":1,"method":"rpc.ping"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("%s - Shutdown failed: %v", serverTestPrefix, err)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("%s - expected going-away close, got %v", serverTestPrefix, err)
	}
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("%s - GET %s: %v", serverTestPrefix, url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), NewServerParams{})

	code, body := getBody(t, ts.URL+"/health")
	if code != http.StatusOK {
		t.Fatalf("%s - expected 200, got %d: %s", serverTestPrefix, code, body)
	}
	var report map[string]interface{}
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if report["status"] != builtin.StatusHealthy {
		t.Errorf("%s - expected healthy, got %v", serverTestPrefix, report["status"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), NewServerParams{})

	if code, _ := getBody(t, ts.URL+"/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("%s - expected 503 before Start, got %d", serverTestPrefix, code)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("%s - Start failed: %v", serverTestPrefix, err)
	}
	if code, _ := getBody(t, "http://"+s.Addr()+"/ready"); code != http.StatusOK {
		t.Errorf("%s - expected 200 after Start, got %d", serverTestPrefix, code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), NewServerParams{})
	ws := dialWS(t, ts, nil)
	roundTrip(t, ws, `{"id":1,"method":"echo","params":{"text":"hi"}}`)

	code, body := getBody(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("%s - expected 200, got %d", serverTestPrefix, code)
	}
	if !strings.Contains(body, `wsdispatch_messages_total{method="echo",outcome="success"} 1`) {
		t.Errorf("%s - expected echo success counter in metrics output", serverTestPrefix)
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	_, ts := newTestServer(t, cfg, NewServerParams{})

	code, _ := getBody(t, ts.URL+"/metrics")
	if code == http.StatusOK {
		t.Errorf("%s - /metrics should not be served when disabled", serverTestPrefix)
	}
}

func TestHomePage(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), NewServerParams{})

	code, body := getBody(t, ts.URL+"/")
	if code != http.StatusOK {
		t.Fatalf("%s - expected 200, got %d", serverTestPrefix, code)
	}
	for _, want := range []string{"rpc.ping", "echo", catalog.HealthReportID, "status-healthy"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}
	if code, _ := getBody(t, ts.URL+"/nope"); code != http.StatusNotFound {
		t.Errorf("%s - expected 404 for unknown path, got %d", serverTestPrefix, code)
	}
}

func TestStart_RejectsMalformedSchemas(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), NewServerParams{})
	s.Dispatcher().Register("broken", echoHandler, schema.Pair{Request: schema.Descriptor{"type": 5}})
	if err := s.Start(); err == nil {
		t.Errorf("%s - expected Start to fail on a malformed schema", serverTestPrefix)
	}
}

type fakeSchemaSource struct {
	rows []db.SharedSchema
	err  error
}

func (f *fakeSchemaSource) ListSharedSchemas(context.Context) ([]db.SharedSchema, error) {
	return f.rows, f.err
}

func TestLoadSharedSchemas(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "schemas.yaml")
	content := `
schemas:
  - id: address
    version: 1.0.0
    schema: { type: object, properties: { zip: { type: string } } }
  - id: money
    version: 1.0.0
    schema: { type: number }
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("%s - write catalog: %v", serverTestPrefix, err)
	}

	cfg := testConfig()
	cfg.SchemaFile = file
	cfg.SchemaVersionConstraint = "^1"
	src := &fakeSchemaSource{rows: []db.SharedSchema{
		{ID: "money", Version: "1.0.0", Status: "active", Schema: map[string]interface{}{"type": "integer"}},
		{ID: "address", Version: "2.0.0", Status: "active", Schema: map[string]interface{}{"type": "null"}},
	}}

	shared, err := loadSharedSchemas(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("%s - loadSharedSchemas: %v", serverTestPrefix, err)
	}
	byID := map[string]schema.Descriptor{}
	for _, d := range shared {
		byID[d["$id"].(string)] = d
	}
	if len(byID) != 3 {
		t.Fatalf("%s - expected health-report, address and money, got %v", serverTestPrefix, byID)
	}
	if byID["money"]["type"] != "integer" {
		t.Errorf("%s - stored schema should replace the file entry, got %v", serverTestPrefix, byID["money"])
	}
	if byID["address"]["type"] != "object" {
		t.Errorf("%s - ^1 should keep address 1.0.0, got %v", serverTestPrefix, byID["address"])
	}
}

func TestStart_ConstraintExemptsBuiltinSchemas(t *testing.T) {
	file := filepath.Join(t.TempDir(), "schemas.yaml")
	content := `
schemas:
  - id: user
    version: 2.1.0
    schema: { type: object, properties: { name: { type: string } } }
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("%s - write catalog: %v", serverTestPrefix, err)
	}
	cfg := testConfig()
	cfg.SchemaFile = file
	cfg.SchemaVersionConstraint = "^2"

	s, ts := newTestServer(t, cfg, NewServerParams{})
	if err := s.Start(); err != nil {
		t.Fatalf("%s - Start failed: %v", serverTestPrefix, err)
	}

	ws := dialWS(t, ts, nil)
	resp := roundTrip(t, ws, `{"id":1,"method":"rpc.health"}`)
	result, _ := resp["result"].(map[string]interface{})
	if resp["error"] != nil || result["status"] == nil {
		t.Errorf("%s - expected a health report, got %v", serverTestPrefix, resp)
	}

	shared, err := loadSharedSchemas(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("%s - loadSharedSchemas: %v", serverTestPrefix, err)
	}
	ids := map[string]bool{}
	for _, d := range shared {
		ids[d["$id"].(string)] = true
	}
	if len(ids) != 2 || !ids["user"] || !ids[catalog.HealthReportID] {
		t.Errorf("%s - expected user and the health report, got %v", serverTestPrefix, ids)
	}
}

func TestLoadSharedSchemas_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.SchemaFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadSharedSchemas(context.Background(), cfg, nil); err == nil {
		t.Errorf("%s - expected error for a missing SCHEMA_FILE", serverTestPrefix)
	}

	cfg = testConfig()
	src := &fakeSchemaSource{err: errors.New("db down")}
	if _, err := loadSharedSchemas(context.Background(), cfg, src); err == nil {
		t.Errorf("%s - expected error from the schema source", serverTestPrefix)
	}

	if _, err := New(context.Background(), NewServerParams{Config: cfg, Schemas: src}); err == nil {
		t.Errorf("%s - New should fail when stored schemas cannot be read", serverTestPrefix)
	}
}

func TestNew_RejectsUnknownCodec(t *testing.T) {
	cfg := testConfig()
	cfg.WireCodec = "xml"
	if _, err := New(context.Background(), NewServerParams{Config: cfg}); err == nil {
		t.Errorf("%s - expected error for unknown codec", serverTestPrefix)
	}
}
