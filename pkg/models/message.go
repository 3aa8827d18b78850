// Package models defines the shared data types for sessions, messages and
// todos. These types are the persistence and wire contract; fields are
// stable and additive only.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// PartType discriminates the content parts of a message.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// ReasoningKind tags reasoning parts as full chain-of-thought or a
// provider-produced summary.
type ReasoningKind string

const (
	ReasoningFull    ReasoningKind = "reasoning"
	ReasoningSummary ReasoningKind = "summary"
)

// ToolCall is a model request to execute a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool call, keyed back by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Part is one content part of a message. Exactly one payload field is set,
// selected by Type.
type Part struct {
	Type PartType `json:"type"`

	// Text payload for PartText parts.
	Text string `json:"text,omitempty"`

	// Reasoning payload. Signature is a provider-opaque token that must be
	// replayed verbatim, or stripped, never altered.
	Reasoning string        `json:"reasoning,omitempty"`
	Kind      ReasoningKind `json:"kind,omitempty"`
	Signature string        `json:"signature,omitempty"`

	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is one entry in a session transcript. Messages are append-only;
// a correction is a new message.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool call parts in order of appearance.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool result parts in order of appearance.
func (m *Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// TextMessage builds a single-part text message.
func TextMessage(id string, role Role, text string) Message {
	return Message{
		ID:        id,
		Role:      role,
		Parts:     []Part{{Type: PartText, Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// ToolResultMessage builds a message carrying one tool result.
func ToolResultMessage(id string, result ToolResult) Message {
	return Message{
		ID:        id,
		Role:      RoleToolResult,
		Parts:     []Part{{Type: PartToolResult, ToolResult: &result}},
		CreatedAt: time.Now().UTC(),
	}
}
