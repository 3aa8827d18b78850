package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/pkg/models"
)

// DefaultOpenAIModel is used when the session config names none.
const DefaultOpenAIModel = "gpt-4.1"

// OpenAI streams chat-completion models. Tool calls arrive fragmented
// across chunks and are assembled by index before emission.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI builds a chat-completions adapter. baseURL overrides the API
// endpoint for compatible gateways.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: DefaultOpenAIModel,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Models() []string {
	return []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4o", "o4-mini"}
}

// Stream runs one step via the chat completions streaming API.
func (p *OpenAI) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	events := make(chan agent.StreamEvent)
	go p.pump(ctx, stream, events)
	return events, nil
}

func (p *OpenAI) pump(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- agent.StreamEvent) {
	defer close(events)
	defer stream.Close()

	pending := map[int]*models.ToolCall{}

	send := func(ev agent.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flushCalls := func() bool {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := pending[i]
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage("{}")
			}
			if !send(agent.StreamEvent{ToolCall: tc}) {
				return false
			}
		}
		pending = map[int]*models.ToolCall{}
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushCalls()
				return
			}
			send(agent.StreamEvent{Err: err})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" && !send(agent.StreamEvent{Text: choice.Delta.Content}) {
			return
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Input = append(pending[index].Input, tc.Function.Arguments...)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushCalls() {
				return
			}
		}
	}
}

// toOpenAIMessages flattens the shared transcript into chat messages. Tool
// results each become a separate "tool" role message; reasoning parts are
// not replayable and are dropped.
func toOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleToolResult:
			for _, tr := range msg.ToolResults() {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls() {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			if out.Content != "" || len(out.ToolCalls) > 0 {
				result = append(result, out)
			}

		default:
			if text := msg.Text(); text != "" {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				})
			}
		}
	}
	return result
}

func toOpenAITools(defs []agent.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		}
	}
	return result
}
