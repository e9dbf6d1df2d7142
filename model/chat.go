// Package model provides LLM integration adapters.
package model

import "context"

// ChatModel abstracts one LLM provider's chat completion API behind a
// single call, so flows and cmd/flowctl's chat command can swap providers
// without touching call sites.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string
	// Content may be empty for an assistant message that only calls tools.
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema follows JSON Schema
// and may be nil for a tool that takes no parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a completion result: Text, ToolCalls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation the model requested. Input's shape
// matches the corresponding ToolSpec.Schema.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
