package router

import (
	"context"
	"fmt"
	"time"
)

// RegisterDefaultBuiltins installs the minimum built-in set required by
// spec §4.4: status, room, time, screen, notify, dirty, rows. Each is a
// thin adapter over session-owned state reached through deps; deps is
// intentionally narrow (function fields, not a fat interface) so tests
// can wire only what a given built-in needs.
type BuiltinDeps struct {
	Now func() time.Time

	GetRoomSummary func(ctx context.Context, roomID string) (map[string]any, error)
	GetStatus      func(ctx context.Context) (map[string]any, error)
	RedrawScreen   func(ctx context.Context) error
	PushNotify     func(level, message string, ttlMS int64)
	MarkDirty      func(tags []string)
	QueryRows      func(ctx context.Context, bufferID string, limit int) ([]map[string]any, error)
}

func RegisterDefaultBuiltins(r *Router, deps BuiltinDeps) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r.RegisterBuiltin("status", func(ctx context.Context, _ ToolContext, _ map[string]any) (any, error) {
		if deps.GetStatus == nil {
			return map[string]any{}, nil
		}
		return deps.GetStatus(ctx)
	})

	r.RegisterBuiltin("room", func(ctx context.Context, toolCtx ToolContext, args map[string]any) (any, error) {
		if deps.GetRoomSummary == nil {
			return nil, fmt.Errorf("router: room built-in not configured")
		}
		roomID := toolCtx.RoomID
		if id, ok := args["room_id"].(string); ok && id != "" {
			roomID = id
		}
		return deps.GetRoomSummary(ctx, roomID)
	})

	r.RegisterBuiltin("time", func(_ context.Context, _ ToolContext, _ map[string]any) (any, error) {
		return map[string]any{"unix": now().Unix(), "rfc3339": now().Format(time.RFC3339)}, nil
	})

	r.RegisterBuiltin("screen", func(ctx context.Context, _ ToolContext, _ map[string]any) (any, error) {
		if deps.RedrawScreen == nil {
			return nil, fmt.Errorf("router: screen built-in not configured")
		}
		if err := deps.RedrawScreen(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	r.RegisterBuiltin("notify", func(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
		if deps.PushNotify == nil {
			return nil, fmt.Errorf("router: notify built-in not configured")
		}
		level, _ := args["level"].(string)
		if level == "" {
			level = "info"
		}
		message, _ := args["message"].(string)
		var ttlMS int64
		if v, ok := args["ttl_ms"].(int64); ok {
			ttlMS = v
		} else if v, ok := args["ttl_ms"].(float64); ok {
			ttlMS = int64(v)
		}
		deps.PushNotify(level, message, ttlMS)
		return map[string]any{"ok": true}, nil
	})

	r.RegisterBuiltin("dirty", func(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
		if deps.MarkDirty == nil {
			return nil, fmt.Errorf("router: dirty built-in not configured")
		}
		tags := stringSlice(args["tags"])
		deps.MarkDirty(tags)
		return map[string]any{"ok": true}, nil
	})

	r.RegisterBuiltin("rows", func(ctx context.Context, _ ToolContext, args map[string]any) (any, error) {
		if deps.QueryRows == nil {
			return nil, fmt.Errorf("router: rows built-in not configured")
		}
		bufferID, _ := args["buffer_id"].(string)
		limit := 50
		if v, ok := args["limit"].(int64); ok {
			limit = int(v)
		} else if v, ok := args["limit"].(float64); ok {
			limit = int(v)
		}
		return deps.QueryRows(ctx, bufferID, limit)
	})
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
