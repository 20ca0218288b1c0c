// Package router implements the tool-routing middleware: a single
// call(name, args) dispatcher resolving a tool name through script
// aliases, script priority overrides, script-registered handlers,
// built-ins, and external tool servers, in that order (spec §4.4).
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tobert/sshwarpd/internal/observability"
)

// ErrUnknownTool is returned when name resolves through none of the
// routing steps.
var ErrUnknownTool = errors.New("router: unknown tool")

// ErrToolCallBlocked is returned when an on_tool_call hook vetoes a call
// by returning nil.
var ErrToolCallBlocked = errors.New("router: tool call blocked by middleware")

// ScriptHandler is a tool implemented by the session's script host.
type ScriptHandler func(ctx context.Context, args map[string]any) (any, error)

// Builtin is a synchronous built-in tool function.
type Builtin func(ctx context.Context, toolCtx ToolContext, args map[string]any) (any, error)

// ExternalCaller reaches an external tool server by name, independent of
// which server hosts it. internal/mcp.Manager satisfies this.
type ExternalCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (any, error)
	FindTool(name string) (serverID string, ok bool)
	// Schema returns name's declared JSON input schema, if the tool
	// server advertised one. ok is false when the tool has no schema.
	Schema(name string) (raw json.RawMessage, ok bool)
}

// ToolContext is the session-scoped context passed to built-ins: room,
// user, store handle, and external-tool registry handle (spec §4.4).
type ToolContext struct {
	RoomID   string
	UserID   string
	Store    any
	External ExternalCaller
}

// Router resolves and dispatches tool calls per spec §4.4's precedence.
type Router struct {
	mu sync.RWMutex

	aliases   map[string]string // name -> "server:tool"
	priority  map[string]string // name -> server
	handlers  map[string]ScriptHandler
	builtins  map[string]Builtin
	external  ExternalCaller
	hooks     Hooks
	logger    *slog.Logger
	toolCtx   ToolContext

	limiters map[string]*rate.Limiter // server id -> per-server call limiter
}

// New constructs a Router. toolCtx is passed to every built-in invocation;
// external may be nil if no tool servers are connected yet.
func New(toolCtx ToolContext, external ExternalCaller, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		aliases:  map[string]string{},
		priority: map[string]string{},
		handlers: map[string]ScriptHandler{},
		builtins: map[string]Builtin{},
		external: external,
		toolCtx:  toolCtx,
		logger:   logger.With("component", "router"),
		limiters: map[string]*rate.Limiter{},
	}
}

// SetServerRateLimit caps how often External calls may be issued against a
// given server id, guarding against a single misbehaving script flooding
// an external tool server with requests.
func (r *Router) SetServerRateLimit(server string, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[server] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (r *Router) allowExternalCall(server string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[server]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// SetAlias maps name to "server:tool" (script control-plane tool).
func (r *Router) SetAlias(name, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[name] = target
}

// SetPriority maps name to a preferred server id.
func (r *Router) SetPriority(name, server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priority[name] = server
}

// RegisterHandler installs a session-registered script handler for name.
func (r *Router) RegisterHandler(name string, h ScriptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterBuiltin installs a built-in tool under name.
func (r *Router) RegisterBuiltin(name string, b Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[name] = b
}

// SetHooks installs the middleware hooks.
func (r *Router) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// resolution is what Call found before invoking it, used for middleware
// context and logging.
type resolution struct {
	kind   string // alias, priority, handler, builtin, external
	server string
	tool   string
}

// Call resolves name and invokes it, per spec §4.4 step 1-6.
func (r *Router) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	alias, hasAlias := r.aliases[name]
	prioServer, hasPriority := r.priority[name]
	handler, hasHandler := r.handlers[name]
	builtin, hasBuiltin := r.builtins[name]
	external := r.external
	hooks := r.hooks
	toolCtx := r.toolCtx
	r.mu.RUnlock()

	var res resolution

	switch {
	case hasAlias:
		server, tool := splitAlias(alias)
		res = resolution{kind: "alias", server: server, tool: tool}
	case hasPriority:
		res = resolution{kind: "priority", server: prioServer, tool: name}
	case hasHandler:
		res = resolution{kind: "handler", tool: name}
	case hasBuiltin:
		res = resolution{kind: "builtin", tool: name}
	case external != nil:
		if server, ok := external.FindTool(name); ok {
			res = resolution{kind: "external", server: server, tool: name}
		} else {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if res.kind == "handler" {
		return handler(ctx, args)
	}
	if res.kind == "builtin" {
		return builtin(ctx, toolCtx, args)
	}

	// alias/priority/external all end up as an external tool-server call.
	callArgs := args
	if hooks.OnToolCall != nil {
		modified, proceed, err := runWithTimeout(func() (map[string]any, bool, error) {
			return hooks.OnToolCall(ctx, res.server, res.tool, args)
		})
		if err != nil {
			r.logger.Warn("on_tool_call hook failed, passing through", "error", err)
		} else {
			if !proceed {
				return nil, ErrToolCallBlocked
			}
			callArgs = modified
		}
	}

	if external == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if !r.allowExternalCall(res.server) {
		return nil, fmt.Errorf("router: rate limit exceeded for server %s", res.server)
	}
	if raw, ok := external.Schema(res.tool); ok {
		if err := validateToolArgs(raw, callArgs); err != nil {
			return nil, err
		}
	}
	r.logger.Debug("dispatching external tool call", "server", res.server, "tool", res.tool, "args", observability.RedactArgs(callArgs))
	result, callErr := external.CallTool(ctx, res.server, res.tool, callArgs)

	if hooks.OnToolResult != nil {
		isError := callErr != nil
		transformed, hookErr := runResultHook(func() (any, error) {
			return hooks.OnToolResult(ctx, res.server, res.tool, result, isError)
		})
		if hookErr == nil {
			result = transformed
		} else {
			r.logger.Warn("on_tool_result hook failed, passing through", "error", hookErr)
		}
	}

	return result, callErr
}

func splitAlias(target string) (server, tool string) {
	server, tool, ok := strings.Cut(target, ":")
	if !ok {
		return "", target
	}
	return server, tool
}
