// Package providers adapts third-party model SDKs to dispatch.Provider.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tobert/sshwarpd/internal/dispatch"
)

// OpenAIProvider implements dispatch.Provider for OpenAI-compatible chat
// completion APIs.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider constructs a provider backed by the go-openai client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete streams a chat completion, retrying transient stream-creation
// failures with linear backoff before handing the stream to processStream.
func (p *OpenAIProvider) Complete(ctx context.Context, req *dispatch.Request) (<-chan *dispatch.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: create stream: %w", lastErr)
	}

	chunks := make(chan *dispatch.Chunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *dispatch.Chunk) {
	defer close(chunks)
	defer stream.Close()

	pending := map[int]*dispatch.ToolCall{}

	for {
		select {
		case <-ctx.Done():
			chunks <- &dispatch.Chunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls(pending, chunks)
				chunks <- &dispatch.Chunk{Done: true}
				return
			}
			chunks <- &dispatch.Chunk{Err: err, Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &dispatch.Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &dispatch.ToolCall{Input: map[string]any{}}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				mergeArguments(pending[index], tc.Function.Arguments)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls(pending, chunks)
		}
	}
}

// mergeArguments accumulates a streamed JSON-argument fragment and, once
// it parses as a complete object, merges it into the pending call's Input.
func mergeArguments(call *dispatch.ToolCall, fragment string) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return
	}
	for k, v := range parsed {
		call.Input[k] = v
	}
}

func flushToolCalls(pending map[int]*dispatch.ToolCall, chunks chan<- *dispatch.Chunk) {
	for _, tc := range pending {
		if tc.ID != "" && tc.Name != "" {
			chunks <- &dispatch.Chunk{ToolCall: tc}
		}
	}
}

func convertMessages(messages []dispatch.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case "tool":
			for _, r := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					ToolCallID: r.ToolCallID,
				})
			}
		default:
			msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		}
	}
	return out
}

func convertTools(tools []dispatch.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		}
	}
	return out
}
