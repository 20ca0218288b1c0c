package dispatch

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultMaxTurns bounds a single model turn's tool-calling rounds when the
// caller doesn't specify one (spec §4.6).
const DefaultMaxTurns = 10

// ToolExecutor dispatches a tool call, normally internal/router.Router.Call.
type ToolExecutor func(ctx context.Context, name string, args map[string]any) (any, error)

// Run drives one model turn to completion: it streams the provider's
// response, executes any requested tools through exec, feeds tool results
// back as a new message, and repeats until the model stops requesting
// tools or maxTurns rounds have elapsed. The returned channel is closed
// when the turn ends, successfully or not.
func Run(ctx context.Context, provider Provider, req *Request, exec ToolExecutor, maxTurns int, logger *slog.Logger) <-chan RowUpdate {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch", "provider", provider.Name())

	updates := make(chan RowUpdate)

	go func() {
		defer close(updates)

		messages := append([]Message(nil), req.Messages...)

		for turn := 0; turn < maxTurns; turn++ {
			turnReq := &Request{
				Model:     req.Model,
				System:    req.System,
				Messages:  messages,
				Tools:     req.Tools,
				MaxTokens: req.MaxTokens,
			}

			chunks, err := provider.Complete(ctx, turnReq)
			if err != nil {
				updates <- RowUpdate{Kind: UpdateComplete, Err: fmt.Errorf("dispatch: %s: %w", provider.Name(), err)}
				return
			}

			var assistantText string
			var pendingCalls []ToolCall
			var inputTokens, outputTokens int

			for chunk := range chunks {
				if chunk.Err != nil {
					updates <- RowUpdate{Kind: UpdateComplete, Err: chunk.Err}
					return
				}
				if chunk.Text != "" {
					assistantText += chunk.Text
					updates <- RowUpdate{Kind: UpdateChunk, TextDelta: chunk.Text}
				}
				if chunk.ToolCall != nil {
					pendingCalls = append(pendingCalls, *chunk.ToolCall)
					updates <- RowUpdate{Kind: UpdateToolCall, ToolCall: chunk.ToolCall}
				}
				if chunk.InputTokens > 0 {
					inputTokens = chunk.InputTokens
				}
				if chunk.OutputTokens > 0 {
					outputTokens = chunk.OutputTokens
				}
			}

			if len(pendingCalls) == 0 {
				updates <- RowUpdate{Kind: UpdateComplete, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}

			assistantMsg := Message{Role: "assistant", Content: assistantText, ToolCalls: pendingCalls}
			messages = append(messages, assistantMsg)

			var results []ToolResult
			for _, call := range pendingCalls {
				value, err := exec(ctx, call.Name, call.Input)
				result := ToolResult{ToolCallID: call.ID}
				if err != nil {
					result.IsError = true
					result.Content = err.Error()
					logger.Warn("tool call failed", "tool", call.Name, "error", err)
				} else {
					result.Content = fmt.Sprintf("%v", value)
				}
				results = append(results, result)
				updates <- RowUpdate{Kind: UpdateToolResult, ToolResult: &result}
			}
			messages = append(messages, Message{Role: "tool", ToolResults: results})
		}

		updates <- RowUpdate{Kind: UpdateComplete, Err: fmt.Errorf("dispatch: max turns (%d) exceeded", maxTurns)}
	}()

	return updates
}
