package models

import "time"

// ScriptScope identifies who owns a script: a room, or a user/agent.
type ScriptScope string

const (
	ScopeRoom ScriptScope = "room"
	ScopeUser ScriptScope = "user"
)

// Script is scoped code addressed by module path. {Scope, ScopeKey,
// ModulePath} is the lookup key; versions are append-only and lookup
// returns the current (most recent) version.
type Script struct {
	ID         string      `json:"id"`
	Scope      ScriptScope `json:"scope"`
	ScopeKey   string      `json:"scope_key"`
	ModulePath string      `json:"module_path"`
	Source     string      `json:"source"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
}
