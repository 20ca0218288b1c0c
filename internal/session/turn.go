package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tobert/sshwarpd/internal/config"
	"github.com/tobert/sshwarpd/internal/dispatch"
	"github.com/tobert/sshwarpd/internal/wrap"
	"github.com/tobert/sshwarpd/pkg/models"
)

// StartModelTurn implements spec §4.6's numbered "Model turn" sequence for
// an "@model message" input. It appends the user row and a mutable
// thinking.stream row synchronously, then launches the streaming task as a
// background goroutine tracked by the session's waitgroup.
func (s *Session) StartModelTurn(ctx context.Context, shortName, message string) error {
	entry, ok := s.models[shortName]
	if !ok {
		return fmt.Errorf("session: unknown model %q", shortName)
	}
	provider, ok := s.providers[entry.Backend]
	if !ok {
		return fmt.Errorf("session: no provider registered for backend %q", entry.Backend)
	}

	userID := s.UserID
	userRow := &models.Row{
		BufferID:      s.bufferID,
		SourceAgentID: &userID,
		ContentMethod: models.ContentMessageUser,
		ContentFormat: models.FormatText,
		Content:       message,
		Mutable:       false,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if _, err := s.appendFinalizedRow(ctx, userRow); err != nil {
		return fmt.Errorf("session: append user row: %w", err)
	}

	thinkingRow := &models.Row{
		BufferID:      s.bufferID,
		SourceAgentID: &shortName,
		ContentMethod: models.ContentThinkingStream,
		ContentFormat: models.FormatText,
		Mutable:       true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	rowID, err := s.store.AppendRow(ctx, thinkingRow)
	if err != nil {
		return fmt.Errorf("session: append thinking row: %w", err)
	}

	s.mu.Lock()
	s.thinkingRowID = &rowID
	s.mu.Unlock()
	s.dirty.Mark("chat")

	result, err := wrap.Compose(s.wrapSources(entry, message), s.wrapBudget, wrap.DefaultEstimator)
	if err != nil {
		return fmt.Errorf("session: compose context: %w", err)
	}

	req := &dispatch.Request{
		Model:     "",
		System:    result.SystemPrompt,
		Messages:  []dispatch.Message{{Role: "user", Content: result.Context + "\n\n" + message}},
		Tools:     s.equippedTools(ctx),
		MaxTokens: entry.MaxTokens,
	}

	turnStart := time.Now()
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.TraceLLMRequest(ctx, entry.Backend, shortName)
	}
	updates := dispatch.Run(ctx, provider, req, s.execTool, s.maxTurns, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.applyUpdates(ctx, rowID, shortName, entry.Backend, turnStart, span, updates)
	}()

	return nil
}

// execTool adapts the router's Call to dispatch.ToolExecutor.
func (s *Session) execTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if s.tracer == nil {
		return s.router.Call(ctx, name, args)
	}
	ctx, span := s.tracer.TraceToolExecution(ctx, name)
	defer span.End()
	result, err := s.router.Call(ctx, name, args)
	if err != nil {
		s.tracer.RecordError(span, err)
	}
	return result, err
}

// applyUpdates is the streaming task: it drains updates and applies each
// one to the store per spec §4.6 step 5-7, setting the chat dirty tag on
// every applied update.
func (s *Session) applyUpdates(ctx context.Context, rowID, modelName, backend string, turnStart time.Time, span trace.Span, updates <-chan dispatch.RowUpdate) {
	var accumulated string
	var turnErr error
	var toolCallCount int
	toolNames := make(map[string]string)

	for u := range updates {
		switch u.Kind {
		case dispatch.UpdateChunk:
			accumulated += u.TextDelta
			if err := s.store.AppendToRow(ctx, rowID, u.TextDelta); err != nil {
				s.logger.Error("append thinking chunk", "row_id", rowID, "error", err)
			}
			s.dirty.Mark("chat")

		case dispatch.UpdateToolCall:
			toolCallCount++
			toolNames[u.ToolCall.ID] = u.ToolCall.Name
			callRow := &models.Row{
				BufferID:      s.bufferID,
				ParentRowID:   &rowID,
				SourceAgentID: &modelName,
				ContentMethod: models.ContentToolCall,
				ContentFormat: models.FormatJSON,
				ContentMeta:   map[string]any{"tool_call_id": u.ToolCall.ID, "input": u.ToolCall.Input},
				Content:       u.ToolCall.Name,
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}
			if _, err := s.appendFinalizedRow(ctx, callRow); err != nil {
				s.logger.Error("append tool call row", "error", err)
			}
			s.dirty.Mark("chat")

		case dispatch.UpdateToolResult:
			status := "success"
			if u.ToolResult.IsError {
				status = "error"
			}
			if s.metrics != nil {
				toolName := toolNames[u.ToolResult.ToolCallID]
				if toolName == "" {
					toolName = "unknown"
				}
				s.metrics.RecordToolExecution(toolName, status, 0)
			}
			resultRow := &models.Row{
				BufferID:      s.bufferID,
				ParentRowID:   &rowID,
				SourceAgentID: &modelName,
				ContentMethod: models.ContentToolResult,
				ContentFormat: models.FormatText,
				ContentMeta:   map[string]any{"tool_call_id": u.ToolResult.ToolCallID, "is_error": u.ToolResult.IsError},
				Content:       u.ToolResult.Content,
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}
			if _, err := s.appendFinalizedRow(ctx, resultRow); err != nil {
				s.logger.Error("append tool result row", "error", err)
			}
			s.dirty.Mark("chat")

		case dispatch.UpdateComplete:
			turnErr = u.Err
		}
	}

	s.mu.Lock()
	s.thinkingRowID = nil
	s.mu.Unlock()

	if s.metrics != nil {
		status := "success"
		if turnErr != nil {
			status = "error"
		}
		s.metrics.RecordLLMRequest(backend, modelName, status, time.Since(turnStart).Seconds(), 0, 0)
		if toolCallCount > 0 {
			s.metrics.RecordRunAttempt(status)
		}
	}

	if turnErr != nil {
		s.logger.Warn("model turn ended with error", "error", turnErr)
		if s.metrics != nil {
			s.metrics.RecordError("turn", "provider_error")
		}
		if span != nil {
			s.tracer.RecordError(span, turnErr)
		}
		if err := s.store.UpdateRowFields(ctx, rowID, map[string]any{"content_meta": map[string]any{"error": turnErr.Error()}}); err != nil {
			s.logger.Error("record turn error on thinking row", "error", err)
		}
	}
	if span != nil {
		span.End()
	}
	if err := s.store.FinalizeRow(ctx, rowID); err != nil {
		s.logger.Error("finalize thinking row", "row_id", rowID, "error", err)
	}
	if err := s.store.SetRowEphemeral(ctx, rowID, true); err != nil {
		s.logger.Error("mark thinking row ephemeral", "row_id", rowID, "error", err)
	}

	if accumulated != "" {
		modelRow := &models.Row{
			BufferID:      s.bufferID,
			SourceAgentID: &modelName,
			ContentMethod: models.ContentMessageModel,
			ContentFormat: models.FormatMarkdown,
			Content:       accumulated,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		newRowID, err := s.appendFinalizedRow(ctx, modelRow)
		if err != nil {
			s.logger.Error("finalize model message row", "error", err)
		} else {
			modelRow.ID = newRowID
			s.onRowInserted(ctx, modelRow)
		}
	}

	s.dirty.Mark("chat")
}

// appendFinalizedRow appends row and immediately finalizes it, the common
// case for every row kind except thinking.stream.
func (s *Session) appendFinalizedRow(ctx context.Context, row *models.Row) (string, error) {
	id, err := s.store.AppendRow(ctx, row)
	if err != nil {
		return "", err
	}
	if err := s.store.FinalizeRow(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// wrapSources builds the canonical priority-ordered source list for a
// model turn's context composition (spec §4.5): global and model identity
// are system sources; room description and recent history are context
// sources filled by priority under budget.
func (s *Session) wrapSources(entry config.ModelEntry, message string) []wrap.Source {
	return []wrap.Source{
		{
			Name:     "global-identity",
			Priority: 0,
			IsSystem: true,
			Text:     func() (string, error) { return s.promptBuilder.GlobalLayer(), nil },
		},
		{
			Name:     "model-identity",
			Priority: 10,
			IsSystem: true,
			Text:     func() (string, error) { return s.promptBuilder.ModelLayer(entry.DisplayName, entry.SystemPrompt), nil },
		},
		{
			Name:     "room-context",
			Priority: 20,
			IsSystem: false,
			Text:     func() (string, error) { return s.roomContextText(context.Background()) },
		},
		{
			Name:     "recent-history",
			Priority: 30,
			IsSystem: false,
			Text:     func() (string, error) { return s.recentHistoryText(context.Background()) },
		},
	}
}

func (s *Session) roomContextText(ctx context.Context) (string, error) {
	room, err := s.store.GetRoom(ctx, s.RoomID)
	if err != nil {
		return "", nil
	}
	return s.promptBuilder.RoomLayer(room.Name, room.Vibe, nil, nil), nil
}

func (s *Session) recentHistoryText(ctx context.Context) (string, error) {
	rows, err := s.store.ListRecentBufferRows(ctx, s.bufferID, 20)
	if err != nil {
		return "", err
	}
	var out string
	for _, r := range rows {
		if r.Ephemeral {
			continue
		}
		out += string(r.ContentMethod) + ": " + r.Content + "\n"
	}
	return out, nil
}

// equippedTools converts the room's merged equipment (spec §4.4) into tool
// specs for the backend. The things/equipped store surface exists but the
// merge query and content_method->JSON-schema conversion it needs are not
// wired yet; a turn with no equipment runs with no tools rather than fail.
func (s *Session) equippedTools(ctx context.Context) []dispatch.ToolSpec {
	return nil
}
