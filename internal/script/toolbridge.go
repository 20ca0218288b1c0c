package script

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the poll status of a pending external-tool call.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusComplete RequestStatus = "complete"
	StatusError    RequestStatus = "error"
	StatusTimeout  RequestStatus = "timeout"
	StatusUnknown  RequestStatus = "unknown"
)

// McpRequest is enqueued by script code via mcp_call and drained by a
// dedicated task that performs the external call (spec §4.4's external
// tool bridge).
type McpRequest struct {
	ID     string
	Server string
	Tool   string
	Args   map[string]any
}

type pendingResult struct {
	status    RequestStatus
	value     any
	err       error
	createdAt time.Time
	completed time.Time
}

// ToolBridge implements the request/poll contract a single-threaded,
// cooperative script host needs to reach external tool servers without
// blocking: script code enqueues a McpRequest and gets a request id back,
// then polls mcp_result(request_id) until the status is terminal.
type ToolBridge struct {
	mu      sync.Mutex
	pending map[string]*pendingResult
	queue   chan McpRequest

	defaultTimeout time.Duration
	maxPendingAge  time.Duration
}

// NewToolBridge constructs a bridge with the given per-request timeout
// (default 30s per spec §4.4) and queue depth.
func NewToolBridge(defaultTimeout time.Duration, queueDepth int) *ToolBridge {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &ToolBridge{
		pending:        map[string]*pendingResult{},
		queue:          make(chan McpRequest, queueDepth),
		defaultTimeout: defaultTimeout,
		maxPendingAge:  10 * time.Minute,
	}
}

// Enqueue registers a pending request and returns its id. It is
// synchronous and non-blocking unless the queue is full, matching the
// script host's no-suspension constraint (the queue send only blocks
// transiently under backpressure, which the host tolerates as a bounded
// stall, never an indefinite await).
func (b *ToolBridge) Enqueue(server, tool string, args map[string]any) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.pending[id] = &pendingResult{status: StatusPending, createdAt: time.Now()}
	b.mu.Unlock()
	b.queue <- McpRequest{ID: id, Server: server, Tool: tool, Args: args}
	return id
}

// Requests returns the channel the draining task reads from.
func (b *ToolBridge) Requests() <-chan McpRequest {
	return b.queue
}

// Complete records the outcome of a request performed by the draining
// task.
func (b *ToolBridge) Complete(id string, value any, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return
	}
	p.completed = time.Now()
	if err != nil {
		p.status = StatusError
		p.err = err
		return
	}
	p.status = StatusComplete
	p.value = value
}

// Poll returns the current value and status for a request id. A pending
// request whose age exceeds the default timeout reports StatusTimeout.
func (b *ToolBridge) Poll(id string) (any, RequestStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil, StatusUnknown
	}
	if p.status == StatusPending && time.Since(p.createdAt) > b.defaultTimeout {
		p.status = StatusTimeout
	}
	return p.value, p.status
}

// Prune removes completed entries older than the bridge's bounded max age,
// run by an independent cleanup pass per spec §4.4.
func (b *ToolBridge) Prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pending {
		if p.status == StatusPending {
			continue
		}
		if now.Sub(p.completed) > b.maxPendingAge {
			delete(b.pending, id)
		}
	}
}
