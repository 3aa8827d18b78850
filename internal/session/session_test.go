package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/internal/safety"
	"github.com/coworklabs/cowork/internal/store"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
	"github.com/coworklabs/cowork/pkg/protocol"
)

// scriptProvider replays scripted steps, one per Stream call.
type scriptProvider struct {
	steps [][]agent.StreamEvent
}

func (p *scriptProvider) Name() string     { return "google" }
func (p *scriptProvider) Models() []string { return []string{"gemini-3-flash-preview"} }

func (p *scriptProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	var step []agent.StreamEvent
	if len(p.steps) > 0 {
		step = p.steps[0]
		p.steps = p.steps[1:]
	}
	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range step {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type scriptFactory struct{ p agent.Provider }

func (f *scriptFactory) New(ctx context.Context, provider string) (agent.Provider, error) {
	return f.p, nil
}

// approvalTool exercises the approve capability like the shell tool does.
type approvalTool struct{ command string }

func (t *approvalTool) Name() string            { return "shell" }
func (t *approvalTool) Description() string     { return "run a command" }
func (t *approvalTool) Schema() json.RawMessage { return tools.Schema(map[string]any{"type": "object"}) }
func (t *approvalTool) Execute(ctx context.Context, tc *tools.Context, args json.RawMessage) (*tools.Result, error) {
	ok, err := tc.Approve(ctx, t.command)
	if err != nil {
		return nil, err
	}
	if !ok {
		return tools.ErrorResult("command rejected"), nil
	}
	return tools.TextResult(`{"stdout":"a\n","stderr":"","exitCode":0}`), nil
}

func newTestSession(t *testing.T, p agent.Provider, tool tools.Tool) *Session {
	t.Helper()
	reg := tools.NewRegistry(nil)
	if tool != nil {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	deps := Deps{
		Providers:  &scriptFactory{p: p},
		Tools:      reg,
		Store:      store.NewMemory(),
		Classifier: safety.NewClassifier(nil),
	}
	cfg := models.SessionConfig{
		Provider:         "google",
		Model:            "gemini-3-flash-preview",
		WorkingDirectory: t.TempDir(),
	}
	s, err := New("s1", cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// nextEvent reads events until one of the wanted types arrives.
func nextEvent(t *testing.T, ch <-chan protocol.Event, types ...string) protocol.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			for _, typ := range types {
				if ev.Type == typ {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", types)
		}
	}
}

func TestGreetEventOrder(t *testing.T) {
	p := &scriptProvider{steps: [][]agent.StreamEvent{{{Text: "hello"}}}}
	s := newTestSession(t, p, nil)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("hi", "cm-1")

	var seen []protocol.Event
	var lastSeq int64
	for len(seen) < 4 {
		ev := nextEvent(t, events,
			protocol.EventSessionBusy, protocol.EventUserMessage, protocol.EventAssistantMessage)
		if ev.EventSeq <= lastSeq {
			t.Errorf("eventSeq not increasing: %d after %d", ev.EventSeq, lastSeq)
		}
		lastSeq = ev.EventSeq
		seen = append(seen, ev)
	}

	if seen[0].Type != protocol.EventSessionBusy || seen[0].Busy == nil || !*seen[0].Busy {
		t.Errorf("first event = %+v", seen[0])
	}
	if seen[1].Type != protocol.EventUserMessage || seen[1].Text != "hi" || seen[1].ClientMessageID != "cm-1" {
		t.Errorf("second event = %+v", seen[1])
	}
	if seen[2].Type != protocol.EventAssistantMessage || seen[2].Text != "hello" {
		t.Errorf("third event = %+v", seen[2])
	}
	if seen[3].Type != protocol.EventSessionBusy || seen[3].Busy == nil || *seen[3].Busy {
		t.Errorf("fourth event = %+v", seen[3])
	}
}

func TestBusyRejectionLeavesStateUntouched(t *testing.T) {
	block := make(chan agent.StreamEvent)
	s := newTestSession(t, &blockedProvider{ch: block}, nil)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("first", "")
	nextEvent(t, events, protocol.EventUserMessage)

	s.SendUserMessage("second", "")
	ev := nextEvent(t, events, protocol.EventSessionBusy)
	if ev.Busy == nil || !*ev.Busy {
		t.Errorf("expected busy event, got %+v", ev)
	}

	s.mu.Lock()
	count := len(s.messages)
	s.mu.Unlock()
	if count != 1 {
		t.Errorf("discarded message mutated state: %d messages", count)
	}
	close(block)
}

type blockedProvider struct{ ch chan agent.StreamEvent }

func (p *blockedProvider) Name() string     { return "google" }
func (p *blockedProvider) Models() []string { return nil }
func (p *blockedProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	return p.ch, nil
}

func TestApprovalFlow(t *testing.T) {
	p := &scriptProvider{steps: [][]agent.StreamEvent{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "shell", Input: json.RawMessage(`{"command":"make build"}`)}}},
		{{Text: "done"}},
	}}
	s := newTestSession(t, p, &approvalTool{command: "make build"})
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("list files", "")

	approval := nextEvent(t, events, protocol.EventApproval)
	if approval.Command != "make build" || approval.RequestID == "" || approval.Dangerous {
		t.Fatalf("approval = %+v", approval)
	}
	if approval.ReasonCode != string(safety.RiskManualReview) {
		t.Errorf("reasonCode = %q", approval.ReasonCode)
	}

	if err := s.ResolveApproval(approval.RequestID, true); err != nil {
		t.Fatal(err)
	}
	final := nextEvent(t, events, protocol.EventAssistantMessage)
	if final.Text != "done" {
		t.Errorf("final text = %q", final.Text)
	}
	nextEvent(t, events, protocol.EventSessionBusy)
	if ask, appr := s.PendingFlags(); ask || appr {
		t.Error("pending flags survived turn end")
	}
}

func TestAskFlow(t *testing.T) {
	askTool := &askingTool{}
	p := &scriptProvider{steps: [][]agent.StreamEvent{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "askUser", Input: json.RawMessage(`{}`)}}},
		{{Text: "thanks"}},
	}}
	s := newTestSession(t, p, askTool)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("ask me", "")
	ask := nextEvent(t, events, protocol.EventAsk)
	if ask.Question != "which one?" || len(ask.Options) != 2 {
		t.Fatalf("ask = %+v", ask)
	}
	if err := s.ResolveAsk(ask.RequestID, "b"); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, events, protocol.EventAssistantMessage)
	if askTool.answer != "b" {
		t.Errorf("tool saw answer %q", askTool.answer)
	}
}

type askingTool struct{ answer string }

func (t *askingTool) Name() string            { return "askUser" }
func (t *askingTool) Description() string     { return "ask" }
func (t *askingTool) Schema() json.RawMessage { return tools.Schema(map[string]any{"type": "object"}) }
func (t *askingTool) Execute(ctx context.Context, tc *tools.Context, args json.RawMessage) (*tools.Result, error) {
	answer, err := tc.AskUser(ctx, "which one?", []string{"a", "b"})
	if err != nil {
		return nil, err
	}
	t.answer = answer
	return &tools.Result{Content: answer}, nil
}

func TestResolveWrongRequestID(t *testing.T) {
	s := newTestSession(t, &scriptProvider{}, nil)
	if err := s.ResolveAsk("nope", "x"); err == nil {
		t.Error("resolving absent ask succeeded")
	}
	if err := s.ResolveApproval("nope", true); err == nil {
		t.Error("resolving absent approval succeeded")
	}
}

func TestCancelMidTurn(t *testing.T) {
	block := make(chan agent.StreamEvent)
	s := newTestSession(t, &blockedProvider{ch: block}, nil)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("spin", "")
	nextEvent(t, events, protocol.EventUserMessage)

	s.Cancel()
	idle := nextEvent(t, events, protocol.EventSessionBusy)
	if idle.Busy == nil || *idle.Busy {
		t.Errorf("expected idle after cancel, got %+v", idle)
	}
	// Cancellation is idempotent.
	s.Cancel()
}

func TestResetClearsEverything(t *testing.T) {
	p := &scriptProvider{steps: [][]agent.StreamEvent{{{Text: "hello"}}}}
	s := newTestSession(t, p, nil)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("hi", "")
	nextEvent(t, events, protocol.EventAssistantMessage)

	if err := s.UpdateTodos([]models.TodoItem{{Content: "x", Status: models.TodoPending}}); err != nil {
		t.Fatal(err)
	}
	s.Reset()
	nextEvent(t, events, protocol.EventResetDone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) != 0 || len(s.todos) != 0 {
		t.Errorf("reset left messages=%d todos=%d", len(s.messages), len(s.todos))
	}
}

func TestSetModelProviderSwapDefaultsModel(t *testing.T) {
	s := newTestSession(t, &scriptProvider{}, nil)
	events, detach := s.Subscribe()
	defer detach()

	if err := s.SetModel("anthropic", ""); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, events, protocol.EventConfigUpdated)
	if ev.Config.Provider != "anthropic" || ev.Config.Model != "claude-opus-4-6" {
		t.Errorf("config = %+v", ev.Config)
	}
}

func TestSetModelRejectedWhileBusy(t *testing.T) {
	block := make(chan agent.StreamEvent)
	s := newTestSession(t, &blockedProvider{ch: block}, nil)
	events, detach := s.Subscribe()
	defer detach()

	s.SendUserMessage("spin", "")
	nextEvent(t, events, protocol.EventUserMessage)

	if err := s.SetModel("anthropic", ""); err == nil {
		t.Error("set_model during busy succeeded")
	}
	if got := s.Config().Provider; got != "google" {
		t.Errorf("provider changed mid-turn: %q", got)
	}
	close(block)
}

func TestRecordRoundTrip(t *testing.T) {
	p := &scriptProvider{steps: [][]agent.StreamEvent{{{Text: "hello"}}}}
	s := newTestSession(t, p, nil)
	events, detach := s.Subscribe()
	defer detach()
	s.SendUserMessage("remember me", "")
	nextEvent(t, events, protocol.EventAssistantMessage)
	// wait for idle so the transcript includes the assistant step
	for {
		ev := nextEvent(t, events, protocol.EventSessionBusy)
		if ev.Busy != nil && !*ev.Busy {
			break
		}
	}

	rec := s.Record()
	if rec.Title != "remember me" || rec.TitleSource != "first_message" {
		t.Errorf("title = %q source = %q", rec.Title, rec.TitleSource)
	}
	if rec.MessageCount != 2 {
		t.Errorf("message count = %d", rec.MessageCount)
	}

	restored, err := New("s1", s.Config(), s.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.restore(rec); err != nil {
		t.Fatal(err)
	}
	restored.mu.Lock()
	defer restored.mu.Unlock()
	if len(restored.messages) != 2 || restored.eventSeq != rec.LastEventSeq {
		t.Errorf("restored messages=%d seq=%d", len(restored.messages), restored.eventSeq)
	}
}
