package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func newTestBuffer(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	room := &models.Room{Name: "lobby"}
	require.NoError(t, s.CreateRoom(ctx, room))
	buf, err := s.GetOrCreateRoomBuffer(ctx, room.ID)
	require.NoError(t, err)
	return buf.ID
}

func TestRoomRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room := &models.Room{Name: "lobby", Vibe: "cozy", Exits: map[string]string{"north": "hallway"}}
	require.NoError(t, s.CreateRoom(ctx, room))
	require.NotEmpty(t, room.ID)

	got, err := s.GetRoomByName(ctx, "lobby")
	require.NoError(t, err)
	require.Equal(t, room.ID, got.ID)
	require.Equal(t, "cozy", got.Vibe)
	require.Equal(t, "hallway", got.Exits["north"])

	_, err = s.GetRoom(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoomForkCopiesVibeAndExits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := &models.Room{Name: "plaza", Vibe: "bustling", Exits: map[string]string{"east": "market"}}
	require.NoError(t, s.CreateRoom(ctx, parent))

	child, err := s.Fork(ctx, parent.ID, "plaza-annex")
	require.NoError(t, err)
	require.Equal(t, "bustling", child.Vibe)
	require.Equal(t, "market", child.Exits["east"])
	require.Equal(t, parent.ID, *child.ParentRoomID)
}

func TestGetOrCreateRoomBufferIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room := &models.Room{Name: "lobby"}
	require.NoError(t, s.CreateRoom(ctx, room))

	first, err := s.GetOrCreateRoomBuffer(ctx, room.ID)
	require.NoError(t, err)
	second, err := s.GetOrCreateRoomBuffer(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestAppendThenReadOrdering(t *testing.T) {
	s := newTestStore(t)
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
	s := newTestStore(t)
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

	// append after finalize is a no-op
	require.NoError(t, s.AppendToRow(ctx, rowID, "!!!"))
	row3, err := s.GetRow(ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, "Hello world", row3.Content)
}

func TestFractionalIndexRebalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bufID := newTestBuffer(t, s)

	firstID, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "first"})
	require.NoError(t, err)
	secondID, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "second"})
	require.NoError(t, err)

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
	s := newTestStore(t)
	err := s.AppendToRow(context.Background(), "does-not-exist", "x")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTagsReactionsAndLinksPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bufID := newTestBuffer(t, s)

	rowID, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "hi"})
	require.NoError(t, err)
	other, err := s.AppendRow(ctx, &models.Row{BufferID: bufID, Content: "bye"})
	require.NoError(t, err)

	require.NoError(t, s.TagRow(ctx, rowID, "important"))
	require.NoError(t, s.TagRow(ctx, rowID, "important")) // idempotent
	tags, err := s.RowTags(ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, []string{"important"}, tags)

	require.NoError(t, s.ReactToRow(ctx, rowID, "agent-1", "+1"))
	reactions, err := s.RowReactions(ctx, rowID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)

	require.NoError(t, s.LinkRows(ctx, models.RowLink{FromRowID: rowID, ToRowID: other, Type: models.LinkReply}))
	links, err := s.RowLinks(ctx, rowID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, other, links[0].ToRowID)
}

func TestRuleAndScriptVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &models.Rule{RoomID: "room-1", Name: "greeter", Enabled: true, TriggerKind: models.TriggerRow, ActionSlot: models.SlotRender, ScriptID: "script-1"}
	require.NoError(t, s.CreateRule(ctx, rule))

	enabled, err := s.ListEnabledRules(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	require.NoError(t, s.PutScript(ctx, &models.Script{Scope: models.ScopeRoom, ScopeKey: "room-1", ModulePath: "main", Source: "v1"}))
	require.NoError(t, s.PutScript(ctx, &models.Script{Scope: models.ScopeRoom, ScopeKey: "room-1", ModulePath: "main", Source: "v2"}))

	latest, err := s.GetScript(ctx, models.ScopeRoom, "room-1", "main")
	require.NoError(t, err)
	require.Equal(t, "v2", latest.Source)
	require.Equal(t, int64(2), latest.Version)
}

func TestThingsAndEquippedMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	thing := &models.Thing{QualifiedName: "tool.search", Kind: models.ThingTool}
	require.NoError(t, s.PutThing(ctx, thing))

	got, err := s.GetThing(ctx, "tool.search")
	require.NoError(t, err)
	require.Equal(t, models.ThingTool, got.Kind)

	require.NoError(t, s.Equip(ctx, &models.Equipped{ThingID: got.ID, ContextKind: models.ContextRoom, ContextID: "room-1", Slot: "primary", Priority: 1}))
	require.NoError(t, s.Equip(ctx, &models.Equipped{ThingID: got.ID, ContextKind: models.ContextAgent, ContextID: "agent-1", Slot: "primary", Priority: 2}))

	roomEquip, err := s.ListEquipped(ctx, models.ContextRoom, "room-1")
	require.NoError(t, err)
	require.Len(t, roomEquip, 1)
}

func TestAgentAndPublicKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{Kind: models.AgentHuman, DisplayName: "abert"}
	require.NoError(t, s.PutAgent(ctx, agent))

	require.NoError(t, s.PutPublicKey(ctx, &models.PublicKey{AgentID: agent.ID, Fingerprint: "SHA256:abc"}))
	key, err := s.LookupByFingerprint(ctx, "SHA256:abc")
	require.NoError(t, err)
	require.Equal(t, agent.ID, key.AgentID)

	_, err = s.LookupByFingerprint(ctx, "SHA256:missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
