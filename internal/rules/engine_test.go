package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/pkg/models"
)

type fakeStore struct {
	rules   []*models.Rule
	loads   int
}

func (f *fakeStore) ListEnabledRules(ctx context.Context, roomID string) ([]*models.Rule, error) {
	f.loads++
	return f.rules, nil
}

func TestTickDivisorFiresOnMultiples(t *testing.T) {
	store := &fakeStore{rules: []*models.Rule{
		{ID: "r1", RoomID: "room-1", Enabled: true, TriggerKind: models.TriggerTick, TickDivisor: 2, ActionSlot: models.SlotBackground},
	}}
	engine := New(store)

	var fired []uint64
	for tick := uint64(1); tick <= 4; tick++ {
		matches, err := engine.MatchTick(context.Background(), "room-1", tick)
		require.NoError(t, err)
		if len(matches) > 0 {
			fired = append(fired, tick)
		}
	}
	require.Equal(t, []uint64{2, 4}, fired)
}

func TestCacheServesWithinTTL(t *testing.T) {
	store := &fakeStore{rules: []*models.Rule{
		{ID: "r1", RoomID: "room-1", Enabled: true, TriggerKind: models.TriggerTick, TickDivisor: 1},
	}}
	now := time.Now()
	engine := New(store, WithNow(func() time.Time { return now }))

	_, err := engine.MatchTick(context.Background(), "room-1", 1)
	require.NoError(t, err)
	_, err = engine.MatchTick(context.Background(), "room-1", 2)
	require.NoError(t, err)
	require.Equal(t, 1, store.loads)

	now = now.Add(61 * time.Second)
	_, err = engine.MatchTick(context.Background(), "room-1", 3)
	require.NoError(t, err)
	require.Equal(t, 2, store.loads)
}

func TestInvalidateCacheForcesReload(t *testing.T) {
	store := &fakeStore{rules: []*models.Rule{}}
	engine := New(store)

	_, err := engine.MatchTick(context.Background(), "room-1", 1)
	require.NoError(t, err)
	engine.InvalidateCache("room-1")
	_, err = engine.MatchTick(context.Background(), "room-1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, store.loads)
}

func TestMatchRowPredicates(t *testing.T) {
	store := &fakeStore{rules: []*models.Rule{
		{ID: "r1", RoomID: "room-1", Enabled: true, TriggerKind: models.TriggerRow,
			Match: models.RuleMatch{ContentMethodGlob: "message.*", BufferType: "room_chat"}},
	}}
	engine := New(store)
	agent := "bot-1"

	row := &models.Row{ContentMethod: models.ContentMessageUser, SourceAgentID: &agent}
	matches, err := engine.MatchRow(context.Background(), "room-1", "room_chat", row, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	toolRow := &models.Row{ContentMethod: models.ContentToolCall, SourceAgentID: &agent}
	matches, err = engine.MatchRow(context.Background(), "room-1", "room_chat", toolRow, nil)
	require.NoError(t, err)
	require.Empty(t, matches)

	matches, err = engine.MatchRow(context.Background(), "room-1", "thinking", row, nil)
	require.NoError(t, err)
	require.Empty(t, matches)
}
