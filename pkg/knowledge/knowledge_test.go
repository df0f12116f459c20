package knowledge

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
	s, err := Open(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRetrieveRanksMatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "PZ", proto.Document{
		Source:  "handbook",
		Content: "Sprint planning happens every second Monday and covers backlog grooming.",
	})
	require.NoError(t, err)
	_, err = s.Add(ctx, "PZ", proto.Document{
		Source:  "handbook",
		Content: "Production deploys require a green pipeline and one approval.",
	})
	require.NoError(t, err)

	docs, err := s.Retrieve(ctx, "PZ", "when is sprint planning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Contains(t, docs[0].Content, "Sprint planning")
}

func TestRetrieveScopedToProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "OTHER", proto.Document{Content: "Sprint cadence for the other team."})
	require.NoError(t, err)

	docs, err := s.Retrieve(ctx, "PZ", "sprint cadence", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieveEmptyStoreYieldsNoDocuments(t *testing.T) {
	s := openTestStore(t)

	docs, err := s.Retrieve(context.Background(), "PZ", "anything at all", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieveEmptyQueryYieldsNoDocuments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "PZ", proto.Document{Content: "Anything."})
	require.NoError(t, err)

	docs, err := s.Retrieve(ctx, "PZ", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieveQuotesHostileInput(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "PZ", proto.Document{Content: "Escalation policy for incidents."})
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, "PZ", `escalation" OR rowid NOT (`, 5)
	require.NoError(t, err)
}

func TestAddBatchIndexesAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids, err := s.AddBatch(ctx, "PZ", []proto.Document{
		{Source: "a.md", Content: "Oncall rotation swaps every Wednesday."},
		{Source: "b.md", Content: "Incident severities range from SEV1 to SEV4."},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	docs, err := s.Retrieve(ctx, "PZ", "oncall rotation", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	// One bad document rejects the whole batch.
	_, err = s.AddBatch(ctx, "PZ", []proto.Document{
		{Content: "Valid."},
		{Content: ""},
	})
	require.Error(t, err)
	docs, err = s.Retrieve(ctx, "PZ", "valid", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteProjectRemovesOnlyThatProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "PZ", proto.Document{Content: "Retro notes for the pizza team."})
	require.NoError(t, err)
	_, err = s.Add(ctx, "OTHER", proto.Document{Content: "Retro notes for the other team."})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, "PZ"))

	docs, err := s.Retrieve(ctx, "PZ", "retro notes", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = s.Retrieve(ctx, "OTHER", "retro notes", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, docs)

	// Empty project is a no-op.
	require.NoError(t, s.DeleteProject(ctx, "PZ"))
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "PZ", proto.Document{Content: "Release checklist for mobile builds."})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.ErrorIs(t, s.Delete(ctx, id), ErrDocumentNotFound)

	docs, err := s.Retrieve(ctx, "PZ", "release checklist", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
