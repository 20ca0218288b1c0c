package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Active rooms/sessions for capacity planning
//   - LLM request performance, token consumption, and estimated cost
//   - Tool execution patterns and latencies
//   - Rule and script evaluation errors by component
//   - Database query performance
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SessionStarted(roomID)
//	defer metrics.RecordToolExecution("search_room", "success", time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider (anthropic|openai), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations routed through the router.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (session|turn|router|rules|script), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current connected sessions.
	// Labels: room_id
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures connection lifetime in seconds.
	// Labels: room_id
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures store query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts store queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// ToolBridgeDepth tracks the number of external tool calls awaiting a
	// script-host response for a session's bridge.
	// Labels: session_id
	ToolBridgeDepth *prometheus.GaugeVec

	// ToolBridgeWait measures time an external tool call spent waiting for
	// the script host to call back with a result.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ToolBridgeWait prometheus.Histogram

	// RuleEvaluations counts rule engine runs by trigger kind and outcome.
	// Labels: trigger_kind, outcome (matched|skipped|error)
	RuleEvaluations *prometheus.CounterVec

	// ContextWindowUsed tracks estimated context-composition token usage.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts model-turn tool-call loop iterations by status,
	// the spec's maxTurns budget (internal/dispatch.Run).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sshwarpd_active_sessions",
				Help: "Current number of connected sessions by room",
			},
			[]string{"room_id"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_session_duration_seconds",
				Help:    "Duration of connected sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"room_id"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		ToolBridgeDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sshwarpd_tool_bridge_depth",
				Help: "Current number of external tool calls awaiting a script host response",
			},
			[]string{"session_id"},
		),

		ToolBridgeWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_tool_bridge_wait_seconds",
				Help:    "Time an external tool call spent waiting for a script host response",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		RuleEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_rule_evaluations_total",
				Help: "Total number of rule engine evaluations by trigger kind and outcome",
			},
			[]string{"trigger_kind", "outcome"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sshwarpd_context_window_tokens",
				Help:    "Context window tokens used composing a model turn",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sshwarpd_run_attempts_total",
				Help: "Total number of model-turn tool-call loop iterations by status",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("search_room", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("turn", "provider_error")
//	metrics.RecordError("router", "unknown_tool")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge for roomID.
//
// Example:
//
//	metrics.SessionStarted(roomID)
func (m *Metrics) SessionStarted(roomID string) {
	m.ActiveSessions.WithLabelValues(roomID).Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
//
// Example:
//
//	start := time.Now()
//	// ... session lifecycle ...
//	metrics.SessionEnded(roomID, time.Since(start).Seconds())
func (m *Metrics) SessionEnded(roomID string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(roomID).Dec()
	m.SessionDuration.WithLabelValues(roomID).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "rows", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// SetToolBridgeDepth sets the current pending-call depth of a session's tool bridge.
//
// Example:
//
//	metrics.SetToolBridgeDepth(sessionID, 2)
func (m *Metrics) SetToolBridgeDepth(sessionID string, depth int) {
	m.ToolBridgeDepth.WithLabelValues(sessionID).Set(float64(depth))
}

// RecordToolBridgeWait records how long an external tool call waited for the
// script host to resolve it.
//
// Example:
//
//	metrics.RecordToolBridgeWait(0.85)
func (m *Metrics) RecordToolBridgeWait(waitSeconds float64) {
	m.ToolBridgeWait.Observe(waitSeconds)
}

// RecordRuleEvaluation records a rule engine pass outcome.
//
// Example:
//
//	metrics.RecordRuleEvaluation("row", "matched")
//	metrics.RecordRuleEvaluation("tick", "skipped")
func (m *Metrics) RecordRuleEvaluation(triggerKind, outcome string) {
	m.RuleEvaluations.WithLabelValues(triggerKind, outcome).Inc()
}

// RecordLLMCost records estimated API cost.
//
// Example:
//
//	metrics.RecordLLMCost("anthropic", "claude-3-opus", 0.015)
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization for a composed turn.
//
// Example:
//
//	metrics.RecordContextWindow("anthropic", "claude-3-opus", 4500)
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records a dispatch.Run tool-call loop iteration.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
