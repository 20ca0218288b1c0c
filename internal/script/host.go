// Package script hosts the single-threaded, sandboxed scripting runtime
// described in spec §4.3: one runtime per session, a curated module
// registry, a call() dispatcher, data/control-plane tools, a dirty-tag
// API, and a notification queue. The runtime never suspends; external work
// is bridged through ToolBridge's request/poll contract (spec §9,
// "Suspension inside the script").
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/tobert/sshwarpd/internal/screen"
)

// ErrScriptRuntime classifies a failure raised while running script code,
// per spec §7's ScriptRuntime error kind.
type ErrScriptRuntime struct {
	Classification string // nil_access, stack_overflow, syntax, timeout, runtime
	Err            error
}

func (e *ErrScriptRuntime) Error() string {
	return fmt.Sprintf("script runtime error (%s): %v", e.Classification, e.Err)
}

func (e *ErrScriptRuntime) Unwrap() error { return e.Err }

func classify(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return "runtime"
	}
	var cErr *goja.CompilerSyntaxError
	if errors.As(err, &cErr) {
		return "syntax"
	}
	return "runtime"
}

// InputActionKind enumerates the actions on_input may return.
type InputActionKind string

const (
	ActionNone         InputActionKind = "none"
	ActionRedraw       InputActionKind = "redraw"
	ActionExecute      InputActionKind = "execute"
	ActionTab          InputActionKind = "tab"
	ActionClearScreen  InputActionKind = "clear_screen"
	ActionQuit         InputActionKind = "quit"
	ActionEscape       InputActionKind = "escape"
	ActionPageUp       InputActionKind = "page_up"
	ActionPageDown     InputActionKind = "page_down"
)

// InputResult is on_input's return value.
type InputResult struct {
	Action InputActionKind
	Text   string
}

// CommandResult is commands.dispatch's return value.
type CommandResult struct {
	Text  string
	Mode  string // overlay, notification
	Title string
}

// CallDispatcher resolves a tool call for the call(name, args) global, in
// the order session handlers -> built-ins -> external tool servers (the
// full resolution chain, including script aliases/priority, lives in
// internal/router; Host defers to it here).
type CallDispatcher func(name string, args map[string]any) (any, error)

// Host is the per-session sandboxed scripting runtime.
type Host struct {
	mu  sync.Mutex // fair-scheduling: only one of input/screen/streaming holds this at a time
	vm  *goja.Runtime
	log *slog.Logger

	registry *Registry
	dirty    *DirtySet
	notify   *NotifyQueue
	bridge   *ToolBridge
	dispatch CallDispatcher

	lastGoodSource string
	lastErr        error

	screen *screen.Buffer // set via SetScreen; nil until a terminal size is known
}

// SetScreen installs (or replaces, on resize) the buffer on_tick draws
// into. It must be called before the first OnTick and again whenever the
// session's transport reports a window-change.
func (h *Host) SetScreen(buf *screen.Buffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.screen = buf
}

// NewHost constructs a script host. dispatch is wired to the tool router's
// Call method; registry, dirty, notify, bridge are owned by the session
// and shared with this host for the lifetime of the session.
func NewHost(registry *Registry, dirty *DirtySet, notify *NotifyQueue, bridge *ToolBridge, dispatch CallDispatcher, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		registry: registry,
		dirty:    dirty,
		notify:   notify,
		bridge:   bridge,
		dispatch: dispatch,
		log:      logger.With("component", "script_host"),
	}
	h.vm = goja.New()
	h.installGlobals()
	return h
}

func (h *Host) installGlobals() {
	h.vm.Set("mark_dirty", func(tag string) { h.dirty.Mark(tag) })
	h.vm.Set("mark_many", func(tags []string) { h.dirty.MarkMany(tags) })

	h.vm.Set("notify", func(level, message string, ttlMS int64) {
		h.notify.Push(Notification{
			Level:   NotifyLevel(level),
			Message: message,
			TTL:     time.Duration(ttlMS) * time.Millisecond,
		})
	})

	h.vm.Set("call", func(name string, args map[string]any) (any, error) {
		if h.dispatch == nil {
			return nil, fmt.Errorf("script: no call dispatcher configured")
		}
		return h.dispatch(name, args)
	})

	h.vm.Set("mcp_call", func(server, tool string, args map[string]any) string {
		return h.bridge.Enqueue(server, tool, args)
	})
	h.vm.Set("mcp_result", func(requestID string) map[string]any {
		value, status := h.bridge.Poll(requestID)
		return map[string]any{"value": value, "status": string(status)}
	})

	h.vm.Set("screen_write", func(row, col int, text string, style map[string]any) {
		if h.screen == nil {
			return
		}
		h.screen.Write(row, col, text, exportStyle(style))
	})
	h.vm.Set("screen_clear", func() {
		if h.screen != nil {
			h.screen.Clear()
		}
	})
	h.vm.Set("set_cursor_pos", func(row, col int, visible bool) {
		if h.screen != nil {
			h.screen.SetCursor(row, col, visible)
		}
	})
	h.vm.Set("screen_size", func() map[string]any {
		if h.screen == nil {
			return map[string]any{"cols": 0, "rows": 0}
		}
		return map[string]any{"cols": h.screen.Width(), "rows": h.screen.Height()}
	})
}

// exportStyle reads the {fg, bg, bold, underline, reverse} shape scripts
// pass for cell styling; any field may be omitted.
func exportStyle(m map[string]any) screen.Style {
	var s screen.Style
	if v, ok := m["fg"].(float64); ok {
		s.FG = int(v)
	}
	if v, ok := m["bg"].(float64); ok {
		s.BG = int(v)
	}
	if v, ok := m["bold"].(bool); ok {
		s.Bold = v
	}
	if v, ok := m["underline"].(bool); ok {
		s.Underline = v
	}
	if v, ok := m["reverse"].(bool); ok {
		s.Reverse = v
	}
	return s
}

// Load compiles and evaluates source as the session's entry-point script.
// On failure, the previous good source (if any) remains active and the
// error is recorded, per spec §4.3's hot-reload contract.
func (h *Host) Load(source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	vm := goja.New()
	h.installGlobalsOn(vm)
	if _, err := vm.RunString(source); err != nil {
		h.lastErr = &ErrScriptRuntime{Classification: classify(err), Err: err}
		return h.lastErr
	}
	h.vm = vm
	h.lastGoodSource = source
	h.lastErr = nil
	return nil
}

// installGlobalsOn is Load's helper so a fresh vm gets the same globals as
// the one built in NewHost.
func (h *Host) installGlobalsOn(vm *goja.Runtime) {
	prev := h.vm
	h.vm = vm
	h.installGlobals()
	h.vm = prev
}

// Reload re-executes the last good source (explicit `reload` signal or
// file-mtime watch trigger).
func (h *Host) Reload() error {
	if h.lastGoodSource == "" {
		return fmt.Errorf("script: nothing loaded yet")
	}
	return h.Load(h.lastGoodSource)
}

// LastError returns the most recent load/reload failure, if any.
func (h *Host) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// OnInput calls the script's on_input(bytes) entry point.
func (h *Host) OnInput(data []byte) (InputResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, ok := goja.AssertFunction(h.vm.Get("on_input"))
	if !ok {
		return InputResult{Action: ActionNone}, nil
	}
	v, err := fn(goja.Undefined(), h.vm.ToValue(string(data)))
	if err != nil {
		return InputResult{}, &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	return exportInputResult(v), nil
}

func exportInputResult(v goja.Value) InputResult {
	exported := v.Export()
	switch t := exported.(type) {
	case string:
		return InputResult{Action: InputActionKind(t)}
	case map[string]any:
		result := InputResult{}
		if a, ok := t["action"].(string); ok {
			result.Action = InputActionKind(a)
		}
		if s, ok := t["text"].(string); ok {
			result.Text = s
		}
		return result
	default:
		return InputResult{Action: ActionNone}
	}
}

// OnTick calls the script's on_tick(dirty_tags, tick, draw_ctx) entry
// point, letting the script redraw only tagged regions.
func (h *Host) OnTick(dirtyTags map[string]bool, tick uint64, drawCtx map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, ok := goja.AssertFunction(h.vm.Get("on_tick"))
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(dirtyTags))
	for t := range dirtyTags {
		tags = append(tags, t)
	}
	_, err := fn(goja.Undefined(), h.vm.ToValue(tags), h.vm.ToValue(tick), h.vm.ToValue(drawCtx))
	if err != nil {
		return &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	return nil
}

// Background calls the script's background(tick) entry point, fired every
// ~500ms per spec §4.6.
func (h *Host) Background(tick uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, ok := goja.AssertFunction(h.vm.Get("background"))
	if !ok {
		return nil
	}
	_, err := fn(goja.Undefined(), h.vm.ToValue(tick))
	if err != nil {
		return &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	return nil
}

// DispatchCommand calls commands.dispatch(name, args).
func (h *Host) DispatchCommand(name string, args []string) (CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	commandsVal := h.vm.Get("commands")
	if commandsVal == nil || goja.IsUndefined(commandsVal) {
		return CommandResult{}, fmt.Errorf("script: commands module not defined")
	}
	commands := commandsVal.ToObject(h.vm)
	fn, ok := goja.AssertFunction(commands.Get("dispatch"))
	if !ok {
		return CommandResult{}, fmt.Errorf("script: commands.dispatch not defined")
	}
	v, err := fn(commandsVal, h.vm.ToValue(name), h.vm.ToValue(args))
	if err != nil {
		return CommandResult{}, &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	return exportCommandResult(v), nil
}

func exportCommandResult(v goja.Value) CommandResult {
	m, ok := v.Export().(map[string]any)
	if !ok {
		return CommandResult{}
	}
	result := CommandResult{}
	if s, ok := m["text"].(string); ok {
		result.Text = s
	}
	if s, ok := m["mode"].(string); ok {
		result.Mode = s
	}
	if s, ok := m["title"].(string); ok {
		result.Title = s
	}
	return result
}

// HandleRule invokes a rule's handle(tick, state) entry point. The return
// value's interpretation depends on the rule's action_slot (spec §6).
func (h *Host) HandleRule(source string, tick uint64, state map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, err := h.vm.RunString("(" + source + ")")
	if err != nil {
		return nil, &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("script: rule handler is not callable")
	}
	v, err := callable(goja.Undefined(), h.vm.ToValue(tick), h.vm.ToValue(state))
	if err != nil {
		return nil, &ErrScriptRuntime{Classification: classify(err), Err: err}
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	m, _ := v.Export().(map[string]any)
	return m, nil
}
