// Package dispatch drives a single model turn: it streams a backend's
// response, executes requested tools through the router, and feeds the
// results back for further turns, bounded by max_turns (spec §4.6).
package dispatch

import (
	"context"
)

// Message is one turn of conversation handed to a backend.
type Message struct {
	Role        string // user, assistant, tool
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolSpec describes a callable tool to a backend, converted from the
// room's merged equipment set (spec §4.5/§4.6).
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is a completion request sent to a Provider.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Chunk is one piece of a streaming response.
type Chunk struct {
	Text         string
	ToolCall     *ToolCall
	Done         bool
	Err          error
	InputTokens  int
	OutputTokens int
}

// Provider is a streaming model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// RowUpdateKind discriminates the variants of RowUpdate the streaming
// task applies to the store (spec §4.6).
type RowUpdateKind string

const (
	UpdateChunk      RowUpdateKind = "chunk"
	UpdateToolCall   RowUpdateKind = "tool_call"
	UpdateToolResult RowUpdateKind = "tool_result"
	UpdateComplete   RowUpdateKind = "complete"
)

// RowUpdate is emitted by Run for every change the streaming task should
// apply to the session's thinking.stream row and its tool.call/tool.result
// children.
type RowUpdate struct {
	Kind         RowUpdateKind
	TextDelta    string
	ToolCall     *ToolCall
	ToolResult   *ToolResult
	InputTokens  int
	OutputTokens int
	Err          error
}
