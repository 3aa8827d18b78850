package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/pkg/models"
)

// DefaultGoogleModel is used when the session config names none.
const DefaultGoogleModel = "gemini-3-flash-preview"

// Google streams Gemini models via the Gen AI SDK. Thought parts are
// surfaced as reasoning events; thought signatures round-trip base64-encoded
// through the shared message model.
type Google struct {
	client       *genai.Client
	defaultModel string
}

// NewGoogle builds a Gemini adapter against the Gemini API backend.
func NewGoogle(ctx context.Context, apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &Google{client: client, defaultModel: DefaultGoogleModel}, nil
}

func (p *Google) Name() string { return "google" }

func (p *Google) Models() []string {
	return []string{
		"gemini-3-flash-preview",
		"gemini-3-pro-preview",
		"gemini-2.5-pro",
		"gemini-2.5-flash",
	}
}

// Stream runs one step via GenerateContentStream.
func (p *Google) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	config := p.buildConfig(req)

	events := make(chan agent.StreamEvent)
	go func() {
		defer close(events)

		send := func(ev agent.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				send(agent.StreamEvent{Err: err})
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if !emitGeminiPart(part, send) {
						return
					}
				}
			}
		}
	}()
	return events, nil
}

// emitGeminiPart converts one response part into stream events. Returns
// false when the consumer went away.
func emitGeminiPart(part *genai.Part, send func(agent.StreamEvent) bool) bool {
	switch {
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			args = []byte("{}")
		}
		return send(agent.StreamEvent{ToolCall: &models.ToolCall{
			ID:    geminiCallID(part.FunctionCall.Name),
			Name:  part.FunctionCall.Name,
			Input: args,
		}})
	case part.Thought:
		ev := agent.StreamEvent{Reasoning: part.Text, Kind: models.ReasoningFull}
		if len(part.ThoughtSignature) > 0 {
			ev.Signature = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		}
		return send(ev)
	case part.Text != "":
		return send(agent.StreamEvent{Text: part.Text})
	}
	return true
}

// geminiCallID synthesizes a call ID; the Gemini API identifies calls by
// function name only.
func geminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

func (p *Google) buildConfig(req *agent.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}
	if req.DisableThinking {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		}
	} else {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return config
}

// toGeminiContents converts the shared transcript to Gemini content. Tool
// results are replayed as user-side function responses keyed by the calling
// function's name.
func toGeminiContents(messages []models.Message) ([]*genai.Content, error) {
	callNames := map[string]string{}
	for _, msg := range messages {
		for _, call := range msg.ToolCalls() {
			callNames[call.ID] = call.Name
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}
			case models.PartReasoning:
				gp := &genai.Part{Text: part.Reasoning, Thought: true}
				if part.Signature != "" {
					sig, err := base64.StdEncoding.DecodeString(part.Signature)
					if err != nil {
						return nil, fmt.Errorf("google: invalid thought signature: %w", err)
					}
					gp.ThoughtSignature = sig
				}
				content.Parts = append(content.Parts, gp)
			case models.PartToolCall:
				var args map[string]any
				if err := json.Unmarshal(part.ToolCall.Input, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: part.ToolCall.Name, Args: args},
				})
			case models.PartToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(part.ToolResult.Content), &response); err != nil {
					response = map[string]any{
						"result": part.ToolResult.Content,
						"error":  part.ToolResult.IsError,
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     callNames[part.ToolResult.ToolCallID],
						Response: response,
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func toGeminiTools(defs []agent.ToolDef) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to the SDK's schema type. Only
// the subset the tool schemas use is mapped.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}
