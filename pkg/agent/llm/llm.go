// Package llm provides the interface and types for language model client
// implementations.
package llm

import (
	"context"
)

// Role identifies who produced a conversation message.
type Role string

const (
	// RoleSystem carries instructions or context for the model.
	RoleSystem Role = "system"
	// RoleUser carries input from the human user.
	RoleUser Role = "user"
	// RoleAssistant carries model output, including tool calls.
	RoleAssistant Role = "assistant"
)

const (
	// DefaultMaxTokens bounds a completion when the caller does not set one.
	DefaultMaxTokens = 4096

	// TemperatureDefault is used for reasoning and grading turns.
	TemperatureDefault = 0.2
)

// Property describes one parameter in a tool's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema is the JSON-schema object shape shared by all providers.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition declares a tool the model may call.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ToolCall is a tool invocation emitted by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult is the outcome of an executed tool call, correlated by ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn in a completion request. Assistant turns may carry
// ToolCalls; user turns may carry ToolResults answering earlier calls.
type Message struct {
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Role        Role
}

// Request asks a provider for one completion.
//
//nolint:govet // value semantics preferred over pointer indirection
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string // "", "auto", or "any"
	MaxTokens   int
	Temperature float32
}

// Response is a provider completion: text, tool calls, or both.
type Response struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string
}

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// Client is the provider seam. Implementations are raw SDK wrappers;
// retry policy is layered on top with WithRetry.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in Request) (<-chan StreamChunk, error)

	// ModelName returns the underlying model identifier.
	ModelName() string
}

// NewRequest creates a request with default token and temperature bounds.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a system turn.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant turn.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage creates a user turn that answers a tool call.
func NewToolResultMessage(toolCallID, content string) Message {
	return Message{
		Role:        RoleUser,
		ToolResults: []ToolResult{{ToolCallID: toolCallID, Content: content}},
	}
}
