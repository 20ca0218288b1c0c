package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/internal/config"
	"github.com/tobert/sshwarpd/internal/dispatch"
	"github.com/tobert/sshwarpd/internal/router"
	"github.com/tobert/sshwarpd/internal/rules"
	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

const testScript = `
var inputBuffer = "";

function on_input(bytes) {
	if (bytes === "\r") {
		var line = inputBuffer;
		inputBuffer = "";
		return {action: "execute", text: line};
	}
	inputBuffer = inputBuffer + bytes;
	return "redraw";
}

function on_tick(tags, tick, ctx) {
}

function background(tick) {
}

var commands = {
	dispatch: function(name, args) {
		return {text: "did " + name, mode: "notification"};
	}
};
`

type fakeProvider struct {
	name   string
	rounds [][]*dispatch.Chunk
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *dispatch.Request) (<-chan *dispatch.Chunk, error) {
	round := f.rounds[f.calls]
	f.calls++
	out := make(chan *dispatch.Chunk, len(round))
	for _, c := range round {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestSession(t *testing.T, provider dispatch.Provider) (*Session, store.Store) {
	t.Helper()

	memStore := store.NewMemoryStore()
	room := &models.Room{ID: "room-1", Name: "The Den"}
	require.NoError(t, memStore.CreateRoom(context.Background(), room))

	registry := script.NewRegistry(nil, nil)
	registry.RegisterEmbedded("main", testScript)

	toolCtx := router.ToolContext{RoomID: room.ID, UserID: "user-1", Store: memStore}
	r := router.New(toolCtx, nil, nil)

	engine := rules.New(memStore)

	cfg := Config{
		Store:    memStore,
		Registry: registry,
		Router:   r,
		Rules:    engine,
		Providers: map[string]dispatch.Provider{
			"fake": provider,
		},
		Models: map[string]config.ModelEntry{
			"bot": {ShortName: "bot", DisplayName: "Bot", Backend: "fake"},
		},
		MaxTurns: 5,
	}

	s, err := New(context.Background(), "sess-1", room.ID, "user-1", cfg)
	require.NoError(t, err)
	return s, memStore
}

func TestHandleInputAppendsPlainChatRow(t *testing.T) {
	s, st := newTestSession(t, &fakeProvider{name: "fake"})

	require.NoError(t, s.HandleInput(context.Background(), []byte("hello room")))
	require.NoError(t, s.HandleInput(context.Background(), []byte("\r")))

	rows, err := st.ListBufferRows(context.Background(), s.bufferID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.ContentMessageUser, rows[0].ContentMethod)
	require.Equal(t, "hello room", rows[0].Content)
	require.True(t, s.dirty.Peek()["chat"])
}

func TestHandleInputRoutesMentionToModelTurn(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		rounds: [][]*dispatch.Chunk{
			{{Text: "hi there"}},
		},
	}
	s, st := newTestSession(t, provider)

	require.NoError(t, s.HandleInput(context.Background(), []byte("@bot say hi")))
	require.NoError(t, s.HandleInput(context.Background(), []byte("\r")))

	require.Eventually(t, func() bool {
		rows, err := st.ListBufferRows(context.Background(), s.bufferID)
		require.NoError(t, err)
		for _, r := range rows {
			if r.ContentMethod == models.ContentMessageModel {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	s.wg.Wait()

	rows, err := st.ListBufferRows(context.Background(), s.bufferID)
	require.NoError(t, err)

	var sawUser, sawModel bool
	for _, r := range rows {
		switch r.ContentMethod {
		case models.ContentMessageUser:
			sawUser = true
		case models.ContentMessageModel:
			sawModel = true
			require.Equal(t, "hi there", r.Content)
		}
	}
	require.True(t, sawUser)
	require.True(t, sawModel)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Nil(t, s.thinkingRowID)
}

func TestHandleInputUnknownModelReturnsError(t *testing.T) {
	s, _ := newTestSession(t, &fakeProvider{name: "fake"})

	require.NoError(t, s.HandleInput(context.Background(), []byte("@ghost hello")))
	err := s.HandleInput(context.Background(), []byte("\r"))
	require.Error(t, err)
}

func TestTickClearsDirtySetAndRunsBackground(t *testing.T) {
	s, _ := newTestSession(t, &fakeProvider{name: "fake"})

	s.dirty.Mark("chat")
	require.NoError(t, s.Tick(context.Background(), backgroundEveryNTicks))
	require.Empty(t, s.dirty.Peek())
}

// TestCloseFinalizesInFlightThinkingRow simulates a session torn down while
// a model turn is still streaming: the thinking.stream row is left mutable
// and tracked in s.thinkingRowID, exactly as StartModelTurn leaves it
// between appending the row and the streaming task's own completion
// handling. finalizeInFlightTurn must finalize and mark it ephemeral
// without waiting on that streaming task, since a stalled backend must not
// block teardown.
func TestCloseFinalizesInFlightThinkingRow(t *testing.T) {
	s, st := newTestSession(t, &fakeProvider{name: "fake"})

	row := &models.Row{
		BufferID:      s.bufferID,
		ContentMethod: models.ContentThinkingStream,
		ContentFormat: models.FormatText,
		Mutable:       true,
	}
	rowID, err := st.AppendRow(context.Background(), row)
	require.NoError(t, err)

	s.mu.Lock()
	s.thinkingRowID = &rowID
	s.mu.Unlock()

	s.finalizeInFlightTurn(context.Background())

	got, err := st.GetRow(context.Background(), rowID)
	require.NoError(t, err)
	require.True(t, got.Ephemeral)
	require.True(t, got.Finalized())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Nil(t, s.thinkingRowID)
}
