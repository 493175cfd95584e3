// Package providers adapts multiple model backends behind one neutral
// completion interface. The orchestration loop speaks only these types;
// backend-specific message shapes, tool encodings and error formats stay
// inside the adapter that owns them.
package providers

import (
	"context"
)

// Provider is one configured model backend.
type Provider interface {
	// Name identifies the backend type, e.g. "anthropic".
	Name() string

	// Complete performs a single non-streaming completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Close releases any backend resources.
	Close() error
}

// Request is a backend-neutral completion request.
type Request struct {
	Messages      []Message `json:"messages"`
	Model         string    `json:"model,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName identify which call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Tool is a callable function surfaced to the model. Parameters is a
// JSON-schema object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-requested invocation. Arguments is the raw JSON
// object text exactly as the backend produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Response struct {
	Content    string     `json:"content"`
	Model      string     `json:"model"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonError        StopReason = "error"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
