// Package contextmgr keeps conversation history inside the model's token
// budget. Trimming drops the oldest turns first and never separates a tool
// invocation from its result.
package contextmgr

import (
	"encoding/json"

	"github.com/tiktoken-go/tokenizer"

	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
)

// DefaultBudget is the history token budget when config is silent. It
// leaves headroom for the system prompt, retrieved documents, and the
// reply inside a typical context window.
const DefaultBudget = 24000

// Manager counts tokens and trims message history to a budget.
type Manager struct {
	codec  tokenizer.Codec
	logger *logx.Logger
	budget int
}

// NewManager creates a manager with the given history budget in tokens.
func NewManager(budget int) *Manager {
	if budget <= 0 {
		budget = DefaultBudget
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		// Counting falls back to a character heuristic.
		codec = nil
	}
	return &Manager{
		codec:  codec,
		logger: logx.NewLogger("contextmgr"),
		budget: budget,
	}
}

// Budget returns the configured history budget.
func (m *Manager) Budget() int { return m.budget }

func (m *Manager) countText(text string) int {
	if text == "" {
		return 0
	}
	if m.codec != nil {
		if ids, _, err := m.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	// Rough fallback: one token per four characters.
	return (len(text) + 3) / 4
}

// CountMessage returns the token cost of one message including its tool
// invocation payload.
func (m *Manager) CountMessage(msg *proto.Message) int {
	count := m.countText(string(msg.Role)) + m.countText(msg.Content)
	if msg.Invocation != nil {
		count += m.countText(msg.Invocation.Name)
		if args, err := json.Marshal(msg.Invocation.Args); err == nil {
			count += m.countText(string(args))
		}
	}
	return count
}

// CountTokens returns the token cost of a message sequence.
func (m *Manager) CountTokens(msgs []proto.Message) int {
	total := 0
	for i := range msgs {
		total += m.CountMessage(&msgs[i])
	}
	return total
}

// Trim returns the longest suffix of msgs that fits the budget. The cut
// point is advanced past any tool result whose invocation would be
// dropped, so pairs always survive or vanish together. The final message
// is always kept even if it alone exceeds the budget.
func (m *Manager) Trim(msgs []proto.Message) []proto.Message {
	if len(msgs) <= 1 || m.CountTokens(msgs) <= m.budget {
		return msgs
	}

	cut := 0
	for cut < len(msgs)-1 && m.CountTokens(msgs[cut:]) > m.budget {
		cut++
		// A kept result answering a dropped invocation would dangle.
		for cut < len(msgs)-1 && msgs[cut].ResultFor != "" {
			cut++
		}
	}

	if cut > 0 {
		m.logger.Debug("trimmed %d oldest messages to fit %d token budget", cut, m.budget)
	}
	return msgs[cut:]
}
