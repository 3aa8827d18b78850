package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/coworklabs/cowork/internal/observability"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
)

const (
	// DefaultMaxSteps bounds model/tool round trips per turn.
	DefaultMaxSteps = 50
	// DefaultChunkTimeout is the maximum silence tolerated between stream
	// chunks before the step is abandoned.
	DefaultChunkTimeout = 90 * time.Second
)

var tracer = otel.Tracer("cowork/agent")

// Loop drives one turn against a provider. The emit hooks publish partial
// results to session clients as they stream; all hooks are optional.
type Loop struct {
	Provider Provider
	Registry *tools.Registry

	// ToolContext is the capability bundle passed to every tool call.
	ToolContext *tools.Context

	MaxSteps     int
	ChunkTimeout time.Duration

	// EmitAssistant publishes a completed assistant text block.
	EmitAssistant func(text string)
	// EmitReasoning publishes a completed reasoning part.
	EmitReasoning func(text string, kind models.ReasoningKind)
	// Log publishes a log line.
	Log func(line string)

	Metrics *observability.Metrics
}

// TurnResult is what a finished (or interrupted) turn produced. Messages
// holds the assistant and tool-result messages appended during the turn,
// in order.
type TurnResult struct {
	Text      string
	Reasoning string
	Steps     int
	Messages  []models.Message
}

// stepOutput collects what one provider step streamed.
type stepOutput struct {
	parts     []models.Part
	text      strings.Builder
	reasoning strings.Builder
	calls     []models.ToolCall
}

// Run executes a turn. req.Messages must already include the user input.
// On cancellation or provider failure the partial result is returned along
// with the error.
func (l *Loop) Run(ctx context.Context, req *Request) (*TurnResult, error) {
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	chunkTimeout := l.ChunkTimeout
	if chunkTimeout <= 0 {
		chunkTimeout = DefaultChunkTimeout
	}
	if l.Metrics != nil {
		l.Metrics.RecordTurnStart()
	}

	history := append([]models.Message(nil), req.Messages...)
	repaired := false
	if needsSignatureRepair(history) {
		history = stripSignatures(history)
		repaired = true
		l.logf("repairing replay: stripped reasoning signatures, thinking disabled for one step")
	}

	res := &TurnResult{}
	var runErr error

	for res.Steps < maxSteps {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		res.Steps++

		stepReq := *req
		stepReq.Messages = history
		if repaired && res.Steps == 1 {
			stepReq.DisableThinking = true
		}

		out, err := l.runStep(ctx, &stepReq, chunkTimeout)
		if out != nil {
			if t := out.text.String(); t != "" {
				res.Text += t
				if l.EmitAssistant != nil {
					l.EmitAssistant(t)
				}
			}
			res.Reasoning += out.reasoning.String()
			if len(out.parts) > 0 {
				assistant := models.Message{
					ID:        uuid.NewString(),
					Role:      models.RoleAssistant,
					Parts:     out.parts,
					CreatedAt: time.Now().UTC(),
				}
				history = append(history, assistant)
				res.Messages = append(res.Messages, assistant)
			}
		}
		if err != nil {
			runErr = err
			break
		}
		if out == nil || len(out.calls) == 0 {
			break
		}

		results, err := l.executeCalls(ctx, out.calls)
		history = append(history, results...)
		res.Messages = append(res.Messages, results...)
		if err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil && res.Steps >= maxSteps {
		l.logf("turn stopped: step budget (%d) exhausted", maxSteps)
	}
	if l.Metrics != nil {
		l.Metrics.RecordTurnEnd(runErr != nil && !isCancel(runErr))
	}
	return res, runErr
}

// runStep streams one provider step and collects its parts. The chunk
// timeout restarts on every event.
func (l *Loop) runStep(ctx context.Context, req *Request, chunkTimeout time.Duration) (*stepOutput, error) {
	ctx, span := tracer.Start(ctx, "agent.step")
	defer span.End()
	span.SetAttributes(attribute.String("model", req.Model))

	stream, err := l.Provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", l.Provider.Name(), err)
	}

	out := &stepOutput{}
	var curReasoning strings.Builder
	var curKind models.ReasoningKind
	var curSignature string

	flushReasoning := func() {
		if curReasoning.Len() == 0 && curSignature == "" {
			return
		}
		text := curReasoning.String()
		out.parts = append(out.parts, models.Part{
			Type:      models.PartReasoning,
			Reasoning: text,
			Kind:      curKind,
			Signature: curSignature,
		})
		out.reasoning.WriteString(text)
		if l.EmitReasoning != nil && text != "" {
			l.EmitReasoning(text, curKind)
		}
		curReasoning.Reset()
		curKind = ""
		curSignature = ""
	}

	var curText strings.Builder
	flushText := func() {
		if curText.Len() == 0 {
			return
		}
		out.parts = append(out.parts, models.Part{Type: models.PartText, Text: curText.String()})
		out.text.WriteString(curText.String())
		curText.Reset()
	}

	timer := time.NewTimer(chunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
			return out, fmt.Errorf("provider %s: no chunk for %s", l.Provider.Name(), chunkTimeout)
		case ev, ok := <-stream:
			if !ok {
				flushReasoning()
				flushText()
				return out, nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(chunkTimeout)

			switch {
			case ev.Err != nil:
				flushReasoning()
				flushText()
				return out, fmt.Errorf("provider %s: %w", l.Provider.Name(), ev.Err)
			case ev.ToolCall != nil:
				flushReasoning()
				flushText()
				call := *ev.ToolCall
				out.parts = append(out.parts, models.Part{Type: models.PartToolCall, ToolCall: &call})
				out.calls = append(out.calls, call)
			case ev.Reasoning != "" || ev.Signature != "":
				flushText()
				curReasoning.WriteString(ev.Reasoning)
				if ev.Kind != "" {
					curKind = ev.Kind
				}
				if ev.Signature != "" {
					curSignature = ev.Signature
				}
			case ev.Text != "":
				flushReasoning()
				curText.WriteString(ev.Text)
			}
		}
	}
}

// executeCalls runs a step's tool calls strictly in emission order and
// returns their result messages. On cancellation the remaining calls are
// skipped.
func (l *Loop) executeCalls(ctx context.Context, calls []models.ToolCall) ([]models.Message, error) {
	var out []models.Message
	for _, call := range calls {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		_, span := tracer.Start(ctx, "agent.tool")
		span.SetAttributes(attribute.String("tool", call.Name))
		res := l.Registry.Execute(ctx, l.ToolContext, call.Name, call.Input)
		span.End()
		if l.Metrics != nil {
			l.Metrics.RecordToolExecution(call.Name, res.IsError)
		}
		// A cancelled tool's error result is dropped with the turn.
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out = append(out, models.ToolResultMessage(uuid.NewString(), models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.Content,
			IsError:    res.IsError,
		}))
	}
	return out, nil
}

func (l *Loop) logf(format string, args ...any) {
	if l.Log != nil {
		l.Log(fmt.Sprintf(format, args...))
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
