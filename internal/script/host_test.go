package script

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	dispatch := func(name string, args map[string]any) (any, error) {
		return map[string]any{"echoed": name}, nil
	}
	return NewHost(NewRegistry(nil, nil), NewDirtySet(), NewNotifyQueue(), NewToolBridge(0, 0), dispatch, nil)
}

func TestOnInputDispatchesExecuteAction(t *testing.T) {
	h := newTestHost(t)
	err := h.Load(`
		function on_input(bytes) {
			if (bytes === "\r") {
				return {action: "execute", text: "look"};
			}
			return "none";
		}
	`)
	require.NoError(t, err)

	result, err := h.OnInput([]byte("\r"))
	require.NoError(t, err)
	require.Equal(t, ActionExecute, result.Action)
	require.Equal(t, "look", result.Text)

	result, err = h.OnInput([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, ActionNone, result.Action)
}

func TestOnInputMissingEntryPointReturnsNone(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`var nothing = 1;`))

	result, err := h.OnInput([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, ActionNone, result.Action)
}

func TestLoadFailureKeepsPreviousScriptActive(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`
		function on_input(bytes) { return "redraw"; }
	`))

	err := h.Load(`this is not valid javascript (((`)
	require.Error(t, err)
	require.Equal(t, err, h.LastError())

	result, onInputErr := h.OnInput([]byte("a"))
	require.NoError(t, onInputErr)
	require.Equal(t, ActionRedraw, result.Action, "previous good script must still be active after a failed reload")
}

func TestReloadReexecutesLastGoodSource(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`function on_input(bytes) { return "tab"; }`))
	require.NoError(t, h.Reload())

	result, err := h.OnInput([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, ActionTab, result.Action)
}

func TestCallGlobalUsesConfiguredDispatcher(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`
		var lastResult = null;
		function on_input(bytes) {
			lastResult = call("room.look", {});
			return "redraw";
		}
	`))

	_, err := h.OnInput([]byte("a"))
	require.NoError(t, err)
}

func TestMarkDirtyReachesSharedDirtySet(t *testing.T) {
	dirty := NewDirtySet()
	h := NewHost(NewRegistry(nil, nil), dirty, NewNotifyQueue(), NewToolBridge(0, 0), nil, nil)
	require.NoError(t, h.Load(`
		function on_tick(tags, tick, ctx) {
			mark_dirty("status");
		}
	`))

	err := h.OnTick(map[string]bool{}, 1, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"status": true}, dirty.Take())
}

func TestDispatchCommandReturnsStructuredResult(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`
		var commands = {
			dispatch: function(name, args) {
				return {text: "you said " + name, mode: "notification"};
			}
		};
	`))

	result, err := h.DispatchCommand("help", nil)
	require.NoError(t, err)
	require.Equal(t, "you said help", result.Text)
	require.Equal(t, "notification", result.Mode)
}

func TestHandleRuleInvokesFunctionSource(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Load(`function on_input(bytes) { return "none"; }`))

	out, err := h.HandleRule(`function(tick, state) { return {seen: state.room_id}; }`, 4, map[string]any{"room_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, "r1", out["seen"])
}
