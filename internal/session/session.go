// Package session implements the per-session orchestrator (spec §4.6): the
// input, screen, streaming, and external-tool tasks that share one script
// host, one dirty-tag set, and one row log for the duration of a single
// connected user.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tobert/sshwarpd/internal/config"
	"github.com/tobert/sshwarpd/internal/dispatch"
	"github.com/tobert/sshwarpd/internal/observability"
	"github.com/tobert/sshwarpd/internal/router"
	"github.com/tobert/sshwarpd/internal/rules"
	"github.com/tobert/sshwarpd/internal/screen"
	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/internal/wrap"
)

// screenTickInterval is the base cadence of the screen task (spec §4.6).
const screenTickInterval = 100 * time.Millisecond

// backgroundEveryNTicks is how many screen ticks elapse between background/
// rule-tick passes, yielding a 500ms cadence at a 100ms base.
const backgroundEveryNTicks = 5

var mentionPattern = regexp.MustCompile(`^@(\S+)\s+(.*)$`)

// defaultCols/defaultRows match the teacher transport's pre-PTY-request
// fallback terminal size; a real window-change/pty-request resizes this
// before the first frame reaches the wire.
const (
	defaultCols = 80
	defaultRows = 24
)

// Session holds every piece of per-connection state described in spec §3's
// "Ownership" paragraph: input buffer and view state live in the script
// host; the orchestrator itself owns the dirty set, notification queue,
// tool bridge, model turn bookkeeping, and wiring to the shared store,
// router, and rules engine.
type Session struct {
	ID     string
	RoomID string
	UserID string

	store    store.Store
	host     *script.Host
	dirty    *script.DirtySet
	notify   *script.NotifyQueue
	bridge   *script.ToolBridge
	registry *script.Registry
	router   *router.Router
	rules    *rules.Engine

	providers map[string]dispatch.Provider // backend name -> provider
	models    map[string]config.ModelEntry // short_name -> entry
	maxTurns  int
	wrapBudget int
	promptBuilder wrap.SystemPromptBuilder

	bufferID string

	logger  *slog.Logger
	metrics *observability.Metrics // optional; nil disables metric recording
	tracer  *observability.Tracer  // optional; nil disables span recording

	mu            sync.Mutex
	thinkingRowID *string // in-flight model turn row, guarded by mu
	tick          uint64

	output    io.Writer // transport write sink; nil until the transport attaches
	screenBuf *screen.Buffer
	lastFrame *screen.Frame

	startedAt time.Time
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// Config bundles the shared, process-wide collaborators a Session needs;
// everything else (host, dirty set, notify queue, bridge) is created fresh
// per session.
type Config struct {
	Store     store.Store
	Registry  *script.Registry
	Router    *router.Router
	Rules     *rules.Engine
	Providers map[string]dispatch.Provider
	Models    map[string]config.ModelEntry
	MaxTurns  int
	WrapBudget int
	Logger    *slog.Logger
	// Metrics is optional; when nil, sessions run without recording metrics.
	Metrics *observability.Metrics
	// Tracer is optional; when nil, sessions run without recording spans.
	Tracer *observability.Tracer
}

// New constructs a session for roomID/userID, creating the room's primary
// chat buffer on first use and wiring a fresh script host whose call()
// dispatcher routes through cfg.Router.
func New(ctx context.Context, id, roomID, userID string, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = dispatch.DefaultMaxTurns
	}
	if cfg.WrapBudget <= 0 {
		cfg.WrapBudget = 8000
	}

	buf, err := cfg.Store.GetOrCreateRoomBuffer(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("session: get or create room buffer: %w", err)
	}

	s := &Session{
		ID:            id,
		RoomID:        roomID,
		UserID:        userID,
		store:         cfg.Store,
		dirty:         script.NewDirtySet(),
		notify:        script.NewNotifyQueue(),
		bridge:        script.NewToolBridge(0, 0),
		registry:      cfg.Registry,
		router:        cfg.Router,
		rules:         cfg.Rules,
		providers:     cfg.Providers,
		models:        cfg.Models,
		maxTurns:      cfg.MaxTurns,
		wrapBudget:    cfg.WrapBudget,
		bufferID:      buf.ID,
		logger:        cfg.Logger.With("component", "session", "session_id", id, "room_id", roomID),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
	}
	s.host = script.NewHost(cfg.Registry, s.dirty, s.notify, s.bridge, s.dispatchToolCall, s.logger)
	s.screenBuf = screen.NewBuffer(defaultCols, defaultRows)
	s.host.SetScreen(s.screenBuf)

	module, err := cfg.Registry.Resolve(ctx, roomID, userID, "main")
	if err != nil {
		return nil, fmt.Errorf("session: resolve entry-point script: %w", err)
	}
	if err := s.host.Load(module.Source); err != nil {
		return nil, fmt.Errorf("session: load entry-point script: %w", err)
	}

	return s, nil
}

// dispatchToolCall adapts the router's context-taking Call to the script
// host's CallDispatcher signature; script calls never carry their own
// per-call timeout, so a background context derived from the session's
// lifetime is used.
func (s *Session) dispatchToolCall(name string, args map[string]any) (any, error) {
	ctx := context.Background()
	return s.router.Call(ctx, name, args)
}

// AttachOutput wires the transport's write sink; the screen task writes
// each tick's ANSI diff here. It must be called before Start.
func (s *Session) AttachOutput(w io.Writer) {
	s.output = w
}

// Resize reallocates the screen buffer for a new terminal size (spec §6's
// pty_request/window_change_request), forcing a full repaint on the next
// tick.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenBuf.Resize(cols, rows)
	s.lastFrame = nil
	s.dirty.MarkMany([]string{"chat", "status", "input"})
}

// Start launches the screen task's ticker goroutine. Cancelling ctx (or
// calling Close) tears the session down per spec §4.6's cancellation rule:
// the in-flight thinking.stream row, if any, is finalized and marked
// ephemeral, and outstanding external-tool results are left to land in the
// discarded pending map.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()

	if s.metrics != nil {
		s.metrics.SessionStarted(s.RoomID)
	}

	s.wg.Add(1)
	go s.runScreenTask(ctx)
}

// Close cancels all per-session tasks and waits for them to exit.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.finalizeInFlightTurn(context.Background())

	if s.metrics != nil {
		s.metrics.SessionEnded(s.RoomID, time.Since(s.startedAt).Seconds())
	}
}

func (s *Session) runScreenTask(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(screenTickInterval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.tick++
			if err := s.Tick(ctx, s.tick); err != nil {
				s.logger.Error("screen tick failed", "error", err)
			}
		}
	}
}

// finalizeInFlightTurn implements spec §4.6's cancellation contract for a
// model turn that was still streaming when the session tore down.
func (s *Session) finalizeInFlightTurn(ctx context.Context) {
	s.mu.Lock()
	rowID := s.thinkingRowID
	s.thinkingRowID = nil
	s.mu.Unlock()

	if rowID == nil {
		return
	}
	if err := s.store.FinalizeRow(ctx, *rowID); err != nil {
		s.logger.Error("finalize in-flight turn row on teardown", "row_id", *rowID, "error", err)
	}
	if err := s.store.SetRowEphemeral(ctx, *rowID, true); err != nil {
		s.logger.Error("mark in-flight turn row ephemeral on teardown", "row_id", *rowID, "error", err)
	}
}

// parseMention splits "@model message" into (shortName, message, true), or
// reports false if text isn't addressed to a model.
func parseMention(text string) (shortName, message string, ok bool) {
	m := mentionPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
