package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/pkg/models"
)

// HandleInput is the input task (spec §4.6): it hands raw bytes to the
// script's on_input entry point and performs the action it returns. It
// takes the script host's fair-scheduling mutex for the duration of the
// on_input call only; the resulting chat row append, command dispatch, or
// model turn launch happens after the host is released.
func (s *Session) HandleInput(ctx context.Context, data []byte) error {
	result, err := s.host.OnInput(data)
	if err != nil {
		s.logger.Warn("on_input script error", "error", err)
		return nil
	}

	switch result.Action {
	case script.ActionNone:
		return nil

	case script.ActionRedraw:
		s.dirty.Mark("chat")
		return nil

	case script.ActionClearScreen:
		s.dirty.MarkMany([]string{"chat", "status", "screen"})
		return nil

	case script.ActionExecute:
		return s.handleExecute(ctx, result.Text)

	case script.ActionQuit:
		s.cancelIfStarted()
		return nil

	default:
		// tab, escape, page_up, page_down are pure UI-navigation actions
		// the script's own on_tick render already accounts for via dirty
		// tags; the orchestrator has nothing further to do.
		s.dirty.Mark("chat")
		return nil
	}
}

func (s *Session) cancelIfStarted() {
	if s.cancel != nil {
		s.cancel()
	}
}

// handleExecute routes a completed input line to a model turn, a slash
// command, or a plain chat row, per spec §4.6's data-flow description.
func (s *Session) handleExecute(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, text)
	}

	if shortName, message, ok := parseMention(text); ok {
		if err := s.StartModelTurn(ctx, shortName, message); err != nil {
			s.notify.Push(script.Notification{
				Level:   script.LevelError,
				Message: err.Error(),
				TTL:     10 * time.Second,
			})
			return err
		}
		return nil
	}

	userID := s.UserID
	row := &models.Row{
		BufferID:      s.bufferID,
		SourceAgentID: &userID,
		ContentMethod: models.ContentMessageUser,
		ContentFormat: models.FormatText,
		Content:       text,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	rowID, err := s.appendFinalizedRow(ctx, row)
	if err != nil {
		return fmt.Errorf("session: append chat row: %w", err)
	}
	row.ID = rowID
	s.onRowInserted(ctx, row)
	s.dirty.Mark("chat")
	return nil
}

// handleCommand dispatches "/name arg1 arg2" through commands.dispatch.
func (s *Session) handleCommand(ctx context.Context, text string) error {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	result, err := s.host.DispatchCommand(name, args)
	if err != nil {
		s.logger.Warn("command dispatch failed", "command", name, "error", err)
		return nil
	}

	switch result.Mode {
	case "notification":
		s.notify.Push(script.Notification{Level: script.LevelInfo, Message: result.Text, TTL: 8 * time.Second})
	default:
		s.dirty.Mark("overlay")
	}
	return nil
}
