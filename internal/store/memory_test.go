package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/pkg/models"
)

func newTestBuffer(t *testing.T, s *MemoryStore) string {
	t.Helper()
	ctx := context.Background()
	room := &models.Room{Name: "lobby"}
	require.NoError(t, s.CreateRoom(ctx, room))
	buf, err := s.GetOrCreateRoomBuffer(ctx, room.ID)
	require.NoError(t, err)
	return buf.ID
}

func TestAppendThenReadOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	bufID := newTestBuffer(t, s)

	for _, content := range []string{"A", "B", "C"} {
		_, err := s.AppendRow(ctx, &models.Row{
			BufferID:      bufID,
			ContentMethod: models.ContentMessageUser,
			Content:       content,
		})
		require.NoError(t, err)
	}

	rows, err := s.ListBufferRows(ctx, bufID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"A", "B", "C"}, []string{rows[0].Content, rows[1].Content, rows[2].Content})
	require.Less(t, rows[0].Position, rows[1].Position)
	require.Less(t, rows[1].Position, rows[2].Position)
}

func TestStreamingTurnLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	bufID := newTestBuffer(t, s)

	rowID, err := s.AppendRow(ctx, &models.Row{
		BufferID:      bufID,
		ContentMethod: models.ContentThinkingStream,
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendToRow(ctx, rowID, "Hello"))
	require.NoError(t, s.AppendToRow(ctx, rowID, " world"))
	require.NoError(t, s.FinalizeRow(ctx, rowID))

	row, err := s.GetRow(ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, "Hello world", row.Content)
	require.False(t, row.Mutable)
	require.NotNil(t, row.FinalizedAt)

	// finalize is idempotent
	require.NoError(t, s.FinalizeRow(ctx, rowID))
	row2, err := s.GetRow(ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, row.FinalizedAt, row2.FinalizedAt)

	// append after finalize is a no-op
	require.NoError(t, s.AppendToRow(ctx, rowID, "!!!"))
	row3, err := s.GetRow(ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, "Hello world", row3.Content)

	require.NoError(t, s.SetRowEphemeral(ctx, rowID, true))
	row4, err := s.GetRow(ctx, rowID)
	require.NoError(t, err)
	require.True(t, row4.Ephemeral)
}

func TestFractionalIndexRebalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	bufID := newTestBuffer(t, s)

	firstID, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "first"})
	require.NoError(t, err)
	secondID, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "second"})
	require.NoError(t, err)

	// Repeatedly insert between the same pair to force the gap below epsilon.
	afterID := firstID
	for i := 0; i < 60; i++ {
		id, err := s.InsertRowBetween(ctx, &models.Row{BufferID: bufID, Content: "mid"}, &afterID, &secondID)
		require.NoError(t, err)
		afterID = id
	}

	rows, err := s.ListBufferRows(ctx, bufID)
	require.NoError(t, err)
	require.True(t, len(rows) >= 60)
	for i := 1; i < len(rows); i++ {
		require.Greater(t, rows[i].Position, rows[i-1].Position)
	}
}

func TestAppendToRowNoopWhenMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendToRow(context.Background(), "does-not-exist", "x")
	require.ErrorIs(t, err, ErrNotFound)
}
