package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpilot/pkg/proto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newCheckpoint(th *proto.Thread, step string) *proto.Checkpoint {
	return &proto.Checkpoint{
		ThreadID: th.ID,
		UserID:   th.UserID,
		Step:     step,
		Thread:   th,
	}
}

func TestSaveAssignsMonotonicSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	th := proto.NewThread("alice", "PZ")

	cp1 := newCheckpoint(th, "reason")
	require.NoError(t, s.Save(ctx, cp1))
	cp2 := newCheckpoint(th, "retrieve")
	require.NoError(t, s.Save(ctx, cp2))

	assert.Equal(t, int64(1), cp1.Seq)
	assert.Equal(t, int64(2), cp2.Seq)
}

func TestLoadReturnsLatestCheckpoint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := proto.NewThread("alice", "PZ")
	th.Append(proto.NewHumanMessage("list my tickets"))
	require.NoError(t, s.Save(ctx, newCheckpoint(th, "reason")))

	th.Append(proto.NewAssistantMessage("You have 2 open tickets."))
	require.NoError(t, s.Save(ctx, newCheckpoint(th, "respond")))

	cp, err := s.Load(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "respond", cp.Step)
	require.Len(t, cp.Thread.Messages, 2)
	assert.Equal(t, "You have 2 open tickets.", cp.Thread.Messages[1].Content)
}

func TestCheckpointRoundTripPreservesState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := proto.NewThread("alice", "PZ")
	th.Append(proto.NewHumanMessage("delete ticket PZ-1"))
	call := proto.NewToolCallMessage("", "delete_ticket", map[string]any{"ticket_id": "PZ-1"})
	th.Append(call)
	th.Retries["retrieve"] = 2
	tok := proto.NewSuspensionToken(call.Invocation.ID, proto.Proposal{
		Action:   proto.ActionDelete,
		TicketID: "PZ-1",
		Summary:  "Delete ticket PZ-1",
	})
	th.Pending = &tok

	require.NoError(t, s.Save(ctx, newCheckpoint(th, "suspend_for_review")))

	cp, err := s.Load(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Thread.Retries["retrieve"])
	require.NotNil(t, cp.Thread.Pending)
	assert.Equal(t, proto.ActionDelete, cp.Thread.Pending.Proposal.Action)
	assert.Equal(t, call.Invocation.ID, cp.Thread.Pending.InvocationID)
	require.Len(t, cp.Thread.Messages, 2)
	require.NotNil(t, cp.Thread.Messages[1].Invocation)
	assert.Equal(t, "delete_ticket", cp.Thread.Messages[1].Invocation.Name)
}

func TestLoadUnknownThread(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "no-such-thread")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadOwnedEnforcesOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := proto.NewThread("alice", "PZ")
	require.NoError(t, s.Save(ctx, newCheckpoint(th, "reason")))

	_, err := s.LoadOwned(ctx, th.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	cp, err := s.LoadOwned(ctx, th.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, th.ID, cp.ThreadID)
}

func TestDeleteScopedToOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := proto.NewThread("alice", "PZ")
	require.NoError(t, s.Save(ctx, newCheckpoint(th, "reason")))

	assert.ErrorIs(t, s.Delete(ctx, th.ID, "mallory"), ErrNotFound)

	require.NoError(t, s.Delete(ctx, th.ID, "alice"))
	_, err := s.Load(ctx, th.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsOnlyOwnThreads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mine := proto.NewThread("alice", "PZ")
	mine.Append(proto.NewHumanMessage("show sprint status"))
	require.NoError(t, s.Save(ctx, newCheckpoint(mine, "reason")))

	theirs := proto.NewThread("bob", "PZ")
	theirs.Append(proto.NewHumanMessage("unrelated"))
	require.NoError(t, s.Save(ctx, newCheckpoint(theirs, "reason")))

	summaries, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, mine.ID, summaries[0].ID)
	assert.Equal(t, "show sprint status", summaries[0].Title)
}

func TestHistoryOrderedBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := proto.NewThread("alice", "PZ")
	for _, step := range []string{"reason", "retrieve", "grade"} {
		require.NoError(t, s.Save(ctx, newCheckpoint(th, step)))
	}

	history, err := s.History(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "reason", history[0].Step)
	assert.Equal(t, "grade", history[2].Step)
	assert.Equal(t, int64(3), history[2].Seq)
}
