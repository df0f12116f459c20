package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpilot/pkg/proto"
)

func TestCountTokens_GrowsWithContent(t *testing.T) {
	m := NewManager(1000)

	short := []proto.Message{proto.NewHumanMessage("hi")}
	long := []proto.Message{proto.NewHumanMessage(strings.Repeat("ticket backlog grooming ", 50))}

	assert.Greater(t, m.CountTokens(long), m.CountTokens(short))
}

func TestTrim_UnderBudgetUntouched(t *testing.T) {
	m := NewManager(1000)
	msgs := []proto.Message{
		proto.NewHumanMessage("list my tickets"),
		proto.NewAssistantMessage("You have 3 open tickets."),
	}

	assert.Equal(t, msgs, m.Trim(msgs))
}

func TestTrim_DropsOldestFirst(t *testing.T) {
	m := NewManager(60)
	filler := strings.Repeat("sprint planning notes ", 10)
	msgs := []proto.Message{
		proto.NewHumanMessage(filler),
		proto.NewAssistantMessage(filler),
		proto.NewHumanMessage("what changed?"),
	}

	trimmed := m.Trim(msgs)
	require.NotEmpty(t, trimmed)
	assert.Less(t, len(trimmed), len(msgs))
	assert.Equal(t, "what changed?", trimmed[len(trimmed)-1].Content)
}

func TestTrim_NeverSplitsInvocationResultPair(t *testing.T) {
	m := NewManager(40)
	filler := strings.Repeat("retrospective summary ", 8)

	call := proto.NewToolCallMessage("", "get_ticket", map[string]any{"id": "PZ-1"})
	result := proto.NewToolResultMessage(call.Invocation.ID, filler)

	msgs := []proto.Message{
		proto.NewHumanMessage(filler),
		call,
		result,
		proto.NewHumanMessage("and now?"),
	}

	trimmed := m.Trim(msgs)
	for i := range trimmed {
		if trimmed[i].ResultFor == "" {
			continue
		}
		found := false
		for j := range trimmed {
			if trimmed[j].HasInvocation() && trimmed[j].Invocation.ID == trimmed[i].ResultFor {
				found = true
			}
		}
		assert.True(t, found, "tool result %s kept without its invocation", trimmed[i].ResultFor)
	}
}

func TestTrim_KeepsFinalMessageEvenOverBudget(t *testing.T) {
	m := NewManager(5)
	msgs := []proto.Message{
		proto.NewHumanMessage(strings.Repeat("very long backlog description ", 20)),
	}

	trimmed := m.Trim(msgs)
	require.Len(t, trimmed, 1)
}
