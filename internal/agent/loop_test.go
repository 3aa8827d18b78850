package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
)

// fakeProvider replays scripted steps. Each call to Stream consumes the
// next step; Requests are recorded for assertions.
type fakeProvider struct {
	steps    [][]StreamEvent
	requests []*Request
}

func (p *fakeProvider) Name() string     { return "fake" }
func (p *fakeProvider) Models() []string { return []string{"fake-1"} }

func (p *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	reqCopy := *req
	p.requests = append(p.requests, &reqCopy)
	if len(p.steps) == 0 {
		return nil, errors.New("no scripted steps left")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]

	ch := make(chan StreamEvent)
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

type echoTool struct{ calls []string }

func (t *echoTool) Name() string             { return "echo" }
func (t *echoTool) Description() string      { return "echo" }
func (t *echoTool) Schema() json.RawMessage  { return tools.Schema(map[string]any{"type": "object"}) }
func (t *echoTool) Execute(ctx context.Context, tc *tools.Context, args json.RawMessage) (*tools.Result, error) {
	t.calls = append(t.calls, string(args))
	return &tools.Result{Content: "echoed"}, nil
}

func newLoop(t *testing.T, p Provider, tool tools.Tool) *Loop {
	t.Helper()
	reg := tools.NewRegistry(nil)
	if tool != nil {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return &Loop{
		Provider:    p,
		Registry:    reg,
		ToolContext: &tools.Context{},
	}
}

func userMessages(text string) []models.Message {
	return []models.Message{models.TextMessage("u1", models.RoleUser, text)}
}

func TestRunSimpleText(t *testing.T) {
	p := &fakeProvider{steps: [][]StreamEvent{
		{{Text: "hel"}, {Text: "lo"}},
	}}
	var emitted []string
	loop := newLoop(t, p, nil)
	loop.EmitAssistant = func(text string) { emitted = append(emitted, text) }

	res, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("hi")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Steps != 1 {
		t.Errorf("steps = %d", res.Steps)
	}
	if len(emitted) != 1 || emitted[0] != "hello" {
		t.Errorf("emitted = %v", emitted)
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != models.RoleAssistant {
		t.Fatalf("messages = %+v", res.Messages)
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	p := &fakeProvider{steps: [][]StreamEvent{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"x":1}`)}}},
		{{Text: "done"}},
	}}
	tool := &echoTool{}
	loop := newLoop(t, p, tool)

	res, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("go")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "done" || res.Steps != 2 {
		t.Errorf("text=%q steps=%d", res.Text, res.Steps)
	}
	if len(tool.calls) != 1 || tool.calls[0] != `{"x":1}` {
		t.Errorf("tool calls = %v", tool.calls)
	}

	// assistant (tool call), tool result, assistant (text)
	if len(res.Messages) != 3 {
		t.Fatalf("len(messages) = %d", len(res.Messages))
	}
	results := res.Messages[1].ToolResults()
	if len(results) != 1 || results[0].ToolCallID != "c1" || results[0].Content != "echoed" {
		t.Errorf("tool result = %+v", results)
	}

	// The second step's replay must include the tool call and its result.
	second := p.requests[1]
	var sawCall, sawResult bool
	for _, m := range second.Messages {
		if len(m.ToolCalls()) > 0 {
			sawCall = true
		}
		if len(m.ToolResults()) > 0 {
			sawResult = true
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("replay missing call/result: call=%v result=%v", sawCall, sawResult)
	}
}

func TestRunToolOrderWithinStep(t *testing.T) {
	p := &fakeProvider{steps: [][]StreamEvent{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"n":1}`)}},
			{ToolCall: &models.ToolCall{ID: "c2", Name: "echo", Input: json.RawMessage(`{"n":2}`)}},
		},
		{{Text: "ok"}},
	}}
	tool := &echoTool{}
	loop := newLoop(t, p, tool)

	if _, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("go")}); err != nil {
		t.Fatal(err)
	}
	if len(tool.calls) != 2 || !strings.Contains(tool.calls[0], `"n":1`) || !strings.Contains(tool.calls[1], `"n":2`) {
		t.Errorf("execution order = %v", tool.calls)
	}
}

func TestRunStepBudget(t *testing.T) {
	call := func(id string) []StreamEvent {
		return []StreamEvent{{ToolCall: &models.ToolCall{ID: id, Name: "echo", Input: json.RawMessage(`{}`)}}}
	}
	p := &fakeProvider{steps: [][]StreamEvent{call("c1"), call("c2"), call("c3"), call("c4")}}
	loop := newLoop(t, p, &echoTool{})
	loop.MaxSteps = 3
	var logs []string
	loop.Log = func(line string) { logs = append(logs, line) }

	res, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("go")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps != 3 {
		t.Errorf("steps = %d", res.Steps)
	}
	var found bool
	for _, line := range logs {
		if strings.Contains(line, "step budget") {
			found = true
		}
	}
	if !found {
		t.Errorf("no budget log line in %v", logs)
	}
}

func TestRunReasoningEmitted(t *testing.T) {
	p := &fakeProvider{steps: [][]StreamEvent{
		{
			{Reasoning: "thinking ", Kind: models.ReasoningFull},
			{Reasoning: "hard", Signature: "sig-1"},
			{Text: "answer"},
		},
	}}
	loop := newLoop(t, p, nil)
	var reasoned []string
	loop.EmitReasoning = func(text string, kind models.ReasoningKind) { reasoned = append(reasoned, text) }

	res, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("q")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reasoning != "thinking hard" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
	if len(reasoned) != 1 || reasoned[0] != "thinking hard" {
		t.Errorf("emitted = %v", reasoned)
	}
	parts := res.Messages[0].Parts
	if parts[0].Type != models.PartReasoning || parts[0].Signature != "sig-1" {
		t.Errorf("part = %+v", parts[0])
	}
	if parts[1].Type != models.PartText || parts[1].Text != "answer" {
		t.Errorf("part = %+v", parts[1])
	}
}

func TestRunCancelDuringStream(t *testing.T) {
	ch := make(chan StreamEvent)
	p := &blockingProvider{ch: ch}
	loop := newLoop(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = loop.Run(ctx, &Request{Model: "fake-1", Messages: userMessages("q")})
	}()

	ch <- StreamEvent{Text: "partial"}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("err = %v", runErr)
	}
}

type blockingProvider struct{ ch chan StreamEvent }

func (p *blockingProvider) Name() string     { return "blocking" }
func (p *blockingProvider) Models() []string { return nil }
func (p *blockingProvider) Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	return p.ch, nil
}

func TestRunChunkTimeout(t *testing.T) {
	p := &blockingProvider{ch: make(chan StreamEvent)}
	loop := newLoop(t, p, nil)
	loop.ChunkTimeout = 50 * time.Millisecond

	_, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("q")})
	if err == nil || !strings.Contains(err.Error(), "no chunk") {
		t.Errorf("err = %v", err)
	}
}

func TestRunProviderError(t *testing.T) {
	p := &fakeProvider{steps: [][]StreamEvent{
		{{Text: "partial "}, {Err: errors.New("rate limited")}},
	}}
	loop := newLoop(t, p, nil)

	res, err := loop.Run(context.Background(), &Request{Model: "fake-1", Messages: userMessages("q")})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v", err)
	}
	if res.Text != "partial " {
		t.Errorf("partial text lost: %q", res.Text)
	}
}
