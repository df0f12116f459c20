package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpilot/pkg/proto"
)

func brokenSequence() []proto.Message {
	call := proto.NewToolCallMessage("", "delete_ticket", map[string]any{"ticket_id": "PZ-1"})
	call.Invocation.ID = "T1"
	return []proto.Message{
		proto.NewHumanMessage("delete PZ-1"),
		call,
		proto.NewHumanMessage("wait, stop"),
	}
}

func TestFixToolCallSequence_RepairsBrokenTail(t *testing.T) {
	msgs := brokenSequence()
	human := msgs[2]

	prepared, ops := FixToolCallSequence(msgs)

	require.Len(t, prepared, 4)
	assert.Equal(t, proto.RoleAssistant, prepared[1].Role)
	assert.Equal(t, proto.RoleToolResult, prepared[2].Role)
	assert.Equal(t, "T1", prepared[2].ResultFor)
	assert.Contains(t, prepared[2].Content, "interrupted")
	assert.Equal(t, proto.RoleHuman, prepared[3].Role)
	// Human message identity is preserved across the repair.
	assert.Equal(t, human.ID, prepared[3].ID)

	require.Len(t, ops, 3)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, human.ID, ops[0].MessageID)
	assert.Equal(t, OpInsert, ops[1].Kind)
	assert.Equal(t, proto.RoleToolResult, ops[1].Message.Role)
	assert.Equal(t, OpInsert, ops[2].Kind)
	assert.Equal(t, human.ID, ops[2].Message.ID)
}

func TestFixToolCallSequence_Identity(t *testing.T) {
	cases := map[string][]proto.Message{
		"empty":          {},
		"single message": {proto.NewHumanMessage("hi")},
		"plain answer": {
			proto.NewHumanMessage("hi"),
			proto.NewAssistantMessage("hello"),
		},
		"completed pair": {
			proto.NewHumanMessage("delete PZ-1"),
			func() proto.Message {
				m := proto.NewToolCallMessage("", "delete_ticket", nil)
				m.Invocation.ID = "T1"
				return m
			}(),
			proto.NewToolResultMessage("T1", "done"),
			proto.NewHumanMessage("thanks"),
		},
	}

	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			prepared, ops := FixToolCallSequence(msgs)
			assert.Empty(t, ops)
			assert.Equal(t, msgs, prepared)
		})
	}
}

func TestFixToolCallSequence_Idempotent(t *testing.T) {
	once, ops := FixToolCallSequence(brokenSequence())
	require.NotEmpty(t, ops)

	twice, ops2 := FixToolCallSequence(once)
	assert.Empty(t, ops2)
	assert.Equal(t, once, twice)
}

func TestApply_MatchesPreparedSequence(t *testing.T) {
	th := proto.NewThread("u1", "")
	for _, m := range brokenSequence() {
		th.Append(m)
	}

	prepared, ops := FixToolCallSequence(th.Messages)
	Apply(th, ops)

	require.Len(t, th.Messages, len(prepared))
	for i := range prepared {
		assert.Equal(t, prepared[i].ID, th.Messages[i].ID)
		assert.Equal(t, prepared[i].Role, th.Messages[i].Role)
	}
}
