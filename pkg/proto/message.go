// Package proto defines the conversation data model shared by the engine:
// messages, threads, checkpoints, and the suspension payloads exchanged with
// callers. These are wire types; behavior lives in the packages that use them.
package proto

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	// RoleHuman marks a message typed by the user.
	RoleHuman Role = "human"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleToolResult marks the outcome of a tool invocation.
	RoleToolResult Role = "tool-result"
)

// ToolInvocation describes a tool call requested by an assistant message.
type ToolInvocation struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	ID   string         `json:"id"`
}

// Message is one turn in a conversation. Ordering within a thread is
// significant and total. An assistant message may carry a ToolInvocation; a
// tool-result message correlates back to it via ResultFor.
type Message struct {
	ID         string          `json:"id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Invocation *ToolInvocation `json:"invocation,omitempty"`
	ResultFor  string          `json:"result_for,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewHumanMessage creates a human message with a fresh id.
func NewHumanMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleHuman,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantMessage creates a plain assistant message with a fresh id.
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolCallMessage creates an assistant message carrying a tool invocation.
func NewToolCallMessage(content, name string, args map[string]any) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    RoleAssistant,
		Content: content,
		Invocation: &ToolInvocation{
			Name: name,
			Args: args,
			ID:   uuid.New().String(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolResultMessage creates a tool-result message correlated to the given
// invocation id.
func NewToolResultMessage(invocationID, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleToolResult,
		Content:   content,
		ResultFor: invocationID,
		CreatedAt: time.Now().UTC(),
	}
}

// HasInvocation reports whether the message carries a tool invocation.
func (m *Message) HasInvocation() bool {
	return m.Invocation != nil && m.Invocation.ID != ""
}
