package script

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tobert/sshwarpd/pkg/models"
)

// ScriptStore is the subset of store.Scripts the registry needs.
type ScriptStore interface {
	GetScript(ctx context.Context, scope models.ScriptScope, scopeKey, modulePath string) (*models.Script, error)
}

// Module is a resolved script module's source and the module path it was
// requested under.
type Module struct {
	Path   string
	Source string
}

// Registry resolves a module path to source text. Precedence (spec §4.3,
// supplemented by original_source/src/lua/registry.rs's scoping rule):
// embedded (compiled-in) modules first, then room-scoped scripts, then
// user-scoped scripts.
type Registry struct {
	mu       sync.RWMutex
	embedded map[string]string
	store    ScriptStore
	logger   *slog.Logger

	watcher *fsnotify.Watcher
}

// NewRegistry constructs a module registry backed by store for room/user
// script lookups.
func NewRegistry(store ScriptStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		embedded: map[string]string{},
		store:    store,
		logger:   logger.With("component", "script_registry"),
	}
}

// RegisterEmbedded installs a module compiled into the binary.
func (r *Registry) RegisterEmbedded(path, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedded[path] = source
}

// Resolve looks up modulePath for a room/user scope, falling back through
// the precedence order.
func (r *Registry) Resolve(ctx context.Context, roomID, userID, modulePath string) (Module, error) {
	r.mu.RLock()
	embedded, ok := r.embedded[modulePath]
	r.mu.RUnlock()
	if ok {
		return Module{Path: modulePath, Source: embedded}, nil
	}

	if r.store != nil && roomID != "" {
		if s, err := r.store.GetScript(ctx, models.ScopeRoom, roomID, modulePath); err == nil {
			return Module{Path: modulePath, Source: s.Source}, nil
		}
	}
	if r.store != nil && userID != "" {
		if s, err := r.store.GetScript(ctx, models.ScopeUser, userID, modulePath); err == nil {
			return Module{Path: modulePath, Source: s.Source}, nil
		}
	}
	return Module{}, fmt.Errorf("script: module %q not found", modulePath)
}

// WatchEntryPoint starts an fsnotify watch on path, invoking onChange
// whenever the file is written. Only the entry-point script file is
// watched on disk; embedded and store-backed modules reload via the
// explicit `reload` signal instead.
func (r *Registry) WatchEntryPoint(path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("script: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("script: watch %s: %w", path, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the entry-point watcher, if any.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
