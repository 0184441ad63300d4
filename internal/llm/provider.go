package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Message is a single turn in a conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	ToolID  string
	// ToolCalls are only set on assistant messages.
	ToolCalls []ToolCall
}

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamHandler receives incremental output from ChatStream.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Provider is the completion surface shared by all backends. Both methods are
// suspension points: they honor ctx cancellation and deadlines.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}

// System and User are small conveniences for one-shot prompts.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }
