// Package providers adapts the vendor SDKs (Anthropic, Google, OpenAI) to
// the agent.Provider stream contract. Each adapter converts the shared
// message model to its wire shape and back into typed stream events.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/pkg/models"
)

// DefaultAnthropicModel is used when the session config names none.
const DefaultAnthropicModel = "claude-opus-4-6"

const defaultThinkingBudget = 8192

// Anthropic streams Claude models. Thinking blocks are surfaced as
// reasoning events with their signatures, so they can be replayed verbatim.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic builds a Claude adapter. baseURL is optional.
func NewAnthropic(apiKey, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: DefaultAnthropicModel,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Models() []string {
	return []string{
		"claude-opus-4-6",
		"claude-sonnet-4-5",
		"claude-haiku-4-5",
	}
}

// Stream runs one step against the Messages API.
func (p *Anthropic) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan agent.StreamEvent)
	go func() {
		defer close(events)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.pump(ctx, stream, events)
	}()
	return events, nil
}

func (p *Anthropic) buildParams(req *agent.Request) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if !req.DisableThinking {
		budget := int64(defaultThinkingBudget)
		if raw, ok := req.Options["thinkingBudget"]; ok {
			var b int64
			if json.Unmarshal(raw, &b) == nil && b >= 1024 {
				budget = b
			}
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// pump translates SSE events into stream events. Tool input JSON arrives as
// partial fragments that are assembled until the block stops.
func (p *Anthropic) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- agent.StreamEvent) {
	var currentTool *models.ToolCall
	var toolInput strings.Builder

	send := func(ev agent.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(agent.StreamEvent{Text: delta.Text}) {
					return
				}
			case "thinking_delta":
				if delta.Thinking != "" && !send(agent.StreamEvent{Reasoning: delta.Thinking, Kind: models.ReasoningFull}) {
					return
				}
			case "signature_delta":
				if delta.Signature != "" && !send(agent.StreamEvent{Kind: models.ReasoningFull, Signature: delta.Signature}) {
					return
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				if !send(agent.StreamEvent{ToolCall: currentTool}) {
					return
				}
				currentTool = nil
			}

		case "message_stop":
			return

		case "error":
			send(agent.StreamEvent{Err: errors.New("anthropic: stream error")})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(agent.StreamEvent{Err: err})
	}
}

// toAnthropicMessages converts the shared transcript to Messages API params.
// Unsigned reasoning parts are dropped on replay; the API only accepts
// thinking blocks that carry their original signature.
func toAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case models.PartReasoning:
				if part.Signature != "" {
					content = append(content, anthropic.NewThinkingBlock(part.Signature, part.Reasoning))
				}
			case models.PartToolCall:
				var input map[string]any
				if err := json.Unmarshal(part.ToolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool call input: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case models.PartToolResult:
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID,
					part.ToolResult.Content,
					part.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func toAnthropicTools(defs []agent.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}
