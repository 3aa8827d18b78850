package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/internal/auth"
	"github.com/coworklabs/cowork/internal/config"
	"github.com/coworklabs/cowork/internal/observability"
	"github.com/coworklabs/cowork/internal/providers"
	"github.com/coworklabs/cowork/internal/safety"
	"github.com/coworklabs/cowork/internal/session"
	"github.com/coworklabs/cowork/internal/store"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/protocol"
)

type fakeProvider struct{}

func (fakeProvider) Name() string     { return "fake" }
func (fakeProvider) Models() []string { return []string{"fake-1"} }

func (fakeProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	ch := make(chan agent.StreamEvent, 1)
	ch <- agent.StreamEvent{Text: "hello back"}
	close(ch)
	return ch, nil
}

type fakeFactory struct{}

func (fakeFactory) New(ctx context.Context, provider string) (agent.Provider, error) {
	return fakeProvider{}, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes its input back." }

func (echoTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{"type": "object"})
}

func (echoTool) Execute(ctx context.Context, tc *tools.Context, args json.RawMessage) (*tools.Result, error) {
	return tools.TextResult("%s", args), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	reg := tools.NewRegistry(nil)
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	deps := session.Deps{
		Providers:  fakeFactory{},
		Tools:      reg,
		Store:      store.NewMemory(),
		Classifier: safety.NewClassifier(nil),
		Metrics:    observability.New(),
	}

	cfg := config.Default()
	cfg.DefaultProvider = "google"
	cfg.DefaultModel = "gemini-3-flash-preview"

	authStore := auth.NewStore(t.TempDir())
	srv := New(cfg, session.NewRegistry(deps), reg, providers.NewCatalog(authStore), authStore, observability.New(), nil)
	srv.workdir = t.TempDir()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readEvent reads frames until one matches wantType, skipping unrelated
// interleaved events.
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		var ev protocol.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type == wantType {
			return ev
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	sendJSON(t, conn, map[string]any{"type": "client_hello", "client": "test", "version": "0.0.1"})
	return readEvent(t, conn, protocol.EventServerHello)
}

func TestHelloOpensSession(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	ev := hello(t, conn)
	if ev.SessionID == "" {
		t.Fatal("server_hello has no session id")
	}
	if ev.Config == nil || ev.Config.Provider != "google" {
		t.Fatalf("config = %+v", ev.Config)
	}
	if ev.Busy == nil || *ev.Busy {
		t.Fatal("new session should be idle")
	}
	if ev.IsResume {
		t.Fatal("fresh session marked as resume")
	}

	status := readEvent(t, conn, protocol.EventObservabilityStatus)
	if len(status.Result) == 0 {
		t.Fatal("observability_status carries no snapshot")
	}
}

func TestPingPong(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "ping"})
	readEvent(t, conn, protocol.EventPong)
}

func TestMalformedFrames(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn, protocol.EventError); ev.Code != protocol.CodeInvalidJSON {
		t.Fatalf("code = %q, want invalid_json", ev.Code)
	}

	sendJSON(t, conn, map[string]any{"type": "bogus"})
	if ev := readEvent(t, conn, protocol.EventError); ev.Code != protocol.CodeUnknownType {
		t.Fatalf("code = %q, want unknown_type", ev.Code)
	}

	// user_message without its required fields fails schema validation.
	sendJSON(t, conn, map[string]any{"type": "user_message"})
	if ev := readEvent(t, conn, protocol.EventError); ev.Code != protocol.CodeValidationFailed {
		t.Fatalf("code = %q, want validation_failed", ev.Code)
	}
}

func TestUserMessageTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)
	id := hello(t, conn).SessionID

	sendJSON(t, conn, map[string]any{"type": "user_message", "sessionId": id, "text": "hi"})

	busy := readEvent(t, conn, protocol.EventSessionBusy)
	if busy.Busy == nil || !*busy.Busy {
		t.Fatal("expected busy=true first")
	}
	if echo := readEvent(t, conn, protocol.EventUserMessage); echo.Text != "hi" {
		t.Fatalf("user echo = %q", echo.Text)
	}
	if msg := readEvent(t, conn, protocol.EventAssistantMessage); msg.Text != "hello back" {
		t.Fatalf("assistant = %q", msg.Text)
	}
	idle := readEvent(t, conn, protocol.EventSessionBusy)
	if idle.Busy == nil || *idle.Busy {
		t.Fatal("expected busy=false after the turn")
	}
}

func TestSessionOpenUnknownID(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "session_open", "sessionId": "nope"})
	ev := readEvent(t, conn, protocol.EventError)
	if ev.Code != protocol.CodeValidationFailed {
		t.Fatalf("code = %q, want validation_failed", ev.Code)
	}
}

func TestSessionOpenWithoutIDCreatesSession(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "session_open"})
	ev := readEvent(t, conn, protocol.EventServerHello)
	if ev.SessionID == "" {
		t.Fatal("no session id")
	}
	if ev.IsResume {
		t.Fatal("fresh session marked as resume")
	}
}

func TestSessionOpenResumesLiveSession(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)
	id := hello(t, conn).SessionID

	other := dialWS(t, ts)
	sendJSON(t, other, map[string]any{"type": "session_open", "sessionId": id})
	ev := readEvent(t, other, protocol.EventServerHello)
	if ev.SessionID != id {
		t.Fatalf("resumed id = %q, want %q", ev.SessionID, id)
	}
	if !ev.IsResume {
		t.Fatal("resume not flagged")
	}
}

func TestListTools(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "list_tools"})
	ev := readEvent(t, conn, protocol.EventToolList)
	if len(ev.Tools) != 1 || ev.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", ev.Tools)
	}
}

func TestListSessions(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)
	id := hello(t, conn).SessionID

	sendJSON(t, conn, map[string]any{"type": "list_sessions"})
	ev := readEvent(t, conn, protocol.EventSessionList)
	found := false
	for _, sum := range ev.Sessions {
		if sum.SessionID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("session %s missing from list", id)
	}
}

func TestProviderCatalog(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "provider_catalog_get"})
	ev := readEvent(t, conn, protocol.EventProviderCatalog)
	if len(ev.Providers) != 3 {
		t.Fatalf("providers = %d, want 3", len(ev.Providers))
	}

	sendJSON(t, conn, map[string]any{"type": "provider_auth_methods_get"})
	methods := readEvent(t, conn, protocol.EventProviderAuthMethods)
	for _, m := range methods.AuthMethods {
		if m.MethodID != "api_key" {
			t.Fatalf("method = %+v, want api_key", m)
		}
	}
}

func TestSetAPIKeyMarksConfigured(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{
		"type":     "provider_auth_set_api_key",
		"provider": "anthropic",
		"apiKey":   "sk-test",
	})
	res := readEvent(t, conn, protocol.EventProviderAuthResult)
	if res.OK == nil || !*res.OK {
		t.Fatalf("result = %+v, want ok", res)
	}

	status := readEvent(t, conn, protocol.EventProviderStatus)
	configured := false
	for _, p := range status.Providers {
		if p.Name == "anthropic" && p.Configured {
			configured = true
		}
	}
	if !configured {
		t.Fatal("anthropic not marked configured after key set")
	}
}

func TestAuthorizeChallengeExplainsAPIKey(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "provider_auth_authorize", "provider": "openai"})
	ev := readEvent(t, conn, protocol.EventProviderAuthChallenge)
	if ev.Provider != "openai" || ev.AuthorizeURL != "" {
		t.Fatalf("challenge = %+v", ev)
	}
	if !strings.Contains(ev.Message, "API key") {
		t.Fatalf("challenge message = %q", ev.Message)
	}
}

func TestHarnessContextRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)
	id := hello(t, conn).SessionID

	sendJSON(t, conn, map[string]any{
		"type":      "harness_context_set",
		"sessionId": id,
		"context":   map[string]any{"run": 7},
	})
	readEvent(t, conn, protocol.EventHarnessContext)

	sendJSON(t, conn, map[string]any{"type": "harness_context_get", "sessionId": id})
	ev := readEvent(t, conn, protocol.EventHarnessContext)
	var ctx struct {
		Run int `json:"run"`
	}
	if err := json.Unmarshal(ev.Context, &ctx); err != nil || ctx.Run != 7 {
		t.Fatalf("context = %s (err %v)", ev.Context, err)
	}
}

func TestObservabilityQuery(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	sendJSON(t, conn, map[string]any{"type": "observability_query", "query": "counters"})
	ev := readEvent(t, conn, protocol.EventObservabilityQueryRes)
	var snap observability.Snapshot
	if err := json.Unmarshal(ev.Result, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Query != "counters" {
		t.Fatalf("query echo = %q", snap.Query)
	}

	sendJSON(t, conn, map[string]any{"type": "harness_slo_evaluate", "query": "turns"})
	slo := readEvent(t, conn, protocol.EventHarnessSLOResult)
	var res observability.SLOResult
	if err := json.Unmarshal(slo.Result, &res); err != nil {
		t.Fatalf("decode slo: %v", err)
	}
}

func TestValidateMessageSchemas(t *testing.T) {
	cases := []struct {
		name    string
		msgType string
		raw     string
		wantErr bool
	}{
		{"hello ok", "client_hello", `{"type":"client_hello","client":"c","version":"1"}`, false},
		{"hello missing version", "client_hello", `{"type":"client_hello","client":"c"}`, true},
		{"user message ok", "user_message", `{"type":"user_message","sessionId":"s","text":"hi"}`, false},
		{"user message empty text", "user_message", `{"type":"user_message","sessionId":"s","text":""}`, true},
		{"set_model needs one of", "set_model", `{"type":"set_model","sessionId":"s"}`, true},
		{"set_model provider only", "set_model", `{"type":"set_model","sessionId":"s","provider":"openai"}`, false},
		{"approval needs bool", "approval_response", `{"type":"approval_response","sessionId":"s","requestId":"r","approved":"yes"}`, true},
		{"approval ok", "approval_response", `{"type":"approval_response","sessionId":"s","requestId":"r","approved":true}`, false},
		{"api key required", "provider_auth_set_api_key", `{"type":"provider_auth_set_api_key","provider":"openai"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateMessage([]byte(tc.raw), tc.msgType)
			if tc.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
