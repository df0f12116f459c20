// Package repair restores well-formedness of conversation histories that were
// broken by human interruption. If an assistant tool invocation never received
// its result because the user typed a new message first, the tail of the
// thread is (tool-call assistant message, human message) with no result in
// between. Repair synthesizes the missing result so the invocation/result
// pairing invariant holds again.
package repair

import (
	"ticketpilot/pkg/proto"
)

// InterruptedResult is the content of a synthesized tool result. It states
// that the operation was interrupted; it never fabricates an outcome.
const InterruptedResult = "Tool call was interrupted by a new user message before a result was produced."

// OpKind identifies a state-correction operation.
type OpKind string

const (
	// OpRemove removes the message with MessageID from the persisted thread.
	OpRemove OpKind = "remove"
	// OpInsert appends Message to the persisted thread.
	OpInsert OpKind = "insert"
)

// StateOp is one correction to apply to the persisted thread.
type StateOp struct {
	Kind      OpKind
	MessageID string
	Message   *proto.Message
}

// FixToolCallSequence inspects the tail of a message history and, if the last
// two messages are an invocation-bearing assistant message followed by a human
// message with no intervening result, returns a repaired sequence plus the
// state corrections to persist. The repaired sequence ends with
// (assistant tool-call, synthesized result, human message); the human message
// keeps its original id so downstream consumers see a stable identity.
//
// When no repair is needed both outputs are the identity transform: the input
// sequence unchanged and no operations. The function is pure and performs no
// I/O; applying it twice yields the same sequence as applying it once.
func FixToolCallSequence(msgs []proto.Message) ([]proto.Message, []StateOp) {
	if !needsRepair(msgs) {
		return msgs, nil
	}

	n := len(msgs)
	call := msgs[n-2]
	human := msgs[n-1]

	result := proto.NewToolResultMessage(call.Invocation.ID, InterruptedResult)

	prepared := make([]proto.Message, 0, n+1)
	prepared = append(prepared, msgs[:n-1]...)
	prepared = append(prepared, result, human)

	ops := []StateOp{
		{Kind: OpRemove, MessageID: human.ID},
		{Kind: OpInsert, Message: &result},
		{Kind: OpInsert, Message: &human},
	}

	return prepared, ops
}

// needsRepair reports whether the history tail is a broken invocation pair.
// A thread with fewer than two messages is never considered broken.
func needsRepair(msgs []proto.Message) bool {
	if len(msgs) < 2 {
		return false
	}
	last := msgs[len(msgs)-1]
	prev := msgs[len(msgs)-2]
	if last.Role != proto.RoleHuman {
		return false
	}
	if prev.Role != proto.RoleAssistant || !prev.HasInvocation() {
		return false
	}
	// A result elsewhere in the thread for this invocation means the pair is
	// already complete and the human message is an ordinary next turn.
	for i := range msgs {
		if msgs[i].Role == proto.RoleToolResult && msgs[i].ResultFor == prev.Invocation.ID {
			return false
		}
	}
	return true
}

// Apply replays state corrections onto a thread. Removes drop the identified
// message; inserts append in operation order.
func Apply(t *proto.Thread, ops []StateOp) {
	for _, op := range ops {
		switch op.Kind {
		case OpRemove:
			for i := range t.Messages {
				if t.Messages[i].ID == op.MessageID {
					t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
					break
				}
			}
		case OpInsert:
			if op.Message != nil {
				t.Append(*op.Message)
			}
		}
	}
}
