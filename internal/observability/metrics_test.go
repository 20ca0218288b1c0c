package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a Metrics against an isolated registry so tests
// don't collide with each other (or with a real process's default
// registry) through promauto's global registration.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	t.Cleanup(func() { prometheus.DefaultRegisterer = orig })
	return NewMetrics()
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMRequest("anthropic", "claude-sonnet", "success", 1.2, 100, 40)
	m.RecordLLMRequest("anthropic", "claude-sonnet", "error", 0.3, 20, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "prompt")); got != 120 {
		t.Errorf("prompt tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "completion")); got != 40 {
		t.Errorf("completion tokens = %v, want 40", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolExecution("search_room", "success", 0.05)
	m.RecordToolExecution("search_room", "success", 0.02)
	m.RecordToolExecution("move_agent", "error", 0.01)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("search_room", "success")); got != 2 {
		t.Errorf("search_room success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("move_agent", "error")); got != 1 {
		t.Errorf("move_agent error count = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError("turn", "provider_error")
	m.RecordError("turn", "provider_error")
	m.RecordError("router", "unknown_tool")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("turn", "provider_error")); got != 2 {
		t.Errorf("turn/provider_error count = %v, want 2", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.SessionStarted("room-1")
	m.SessionStarted("room-1")
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("room-1")); got != 2 {
		t.Errorf("active sessions = %v, want 2", got)
	}

	m.SessionEnded("room-1", 300.0)
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("room-1")); got != 1 {
		t.Errorf("active sessions after end = %v, want 1", got)
	}
	if testutil.CollectAndCount(m.SessionDuration) < 1 {
		t.Error("expected session duration histogram to have an observation")
	}
}

func TestRecordDatabaseQuery(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDatabaseQuery("select", "rows", "success", 0.001)
	m.RecordDatabaseQuery("insert", "rows", "error", 0.002)

	if got := testutil.ToFloat64(m.DatabaseQueryCounter.WithLabelValues("select", "rows", "success")); got != 1 {
		t.Errorf("select/rows/success count = %v, want 1", got)
	}
}

func TestToolBridgeDepthAndWait(t *testing.T) {
	m := newTestMetrics(t)

	m.SetToolBridgeDepth("session-1", 3)
	if got := testutil.ToFloat64(m.ToolBridgeDepth.WithLabelValues("session-1")); got != 3 {
		t.Errorf("tool bridge depth = %v, want 3", got)
	}

	m.RecordToolBridgeWait(0.5)
	if testutil.CollectAndCount(m.ToolBridgeWait) < 1 {
		t.Error("expected tool bridge wait histogram to have an observation")
	}
}

func TestRecordRuleEvaluation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRuleEvaluation("row", "matched")
	m.RecordRuleEvaluation("tick", "skipped")

	if got := testutil.ToFloat64(m.RuleEvaluations.WithLabelValues("row", "matched")); got != 1 {
		t.Errorf("row/matched count = %v, want 1", got)
	}
}

func TestRecordRunAttempt(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRunAttempt("success")
	m.RecordRunAttempt("retry")
	m.RecordRunAttempt("retry")

	if got := testutil.ToFloat64(m.RunAttempts.WithLabelValues("retry")); got != 2 {
		t.Errorf("retry count = %v, want 2", got)
	}
}
