package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tobert/sshwarpd/internal/dispatch"
)

// AnthropicProvider implements dispatch.Provider for Claude models.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider constructs a provider backed by the Anthropic SDK.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) maxTokens(requested int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return 4096
}

// Complete streams a Claude completion. Tool results are attached as
// user-turn tool_result blocks per Anthropic's multi-turn tool protocol.
// Stream creation is retried with exponential backoff; once the stream is
// open, failures surface as a terminal chunk rather than a retry, since
// Claude may have already emitted partial output.
func (p *AnthropicProvider) Complete(ctx context.Context, req *dispatch.Request) (<-chan *dispatch.Chunk, error) {
	chunks := make(chan *dispatch.Chunk)

	go func() {
		defer close(chunks)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model(req.Model)),
			Messages:  convertAnthropicMessages(req.Messages),
			MaxTokens: p.maxTokens(req.MaxTokens),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
		}
		if len(req.Tools) > 0 {
			params.Tools = convertAnthropicTools(req.Tools)
		}

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if stream.Err() == nil {
				break
			}
			if attempt == p.maxRetries {
				chunks <- &dispatch.Chunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w", stream.Err())}
				return
			}
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &dispatch.Chunk{Err: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}

		processAnthropicStream(stream, chunks)
	}()

	return chunks, nil
}

// processAnthropicStream does not close chunks; Complete's enclosing
// goroutine owns that via its own defer.
func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *dispatch.Chunk) {
	var currentCall *dispatch.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int
	emptyEvents := 0
	const maxEmptyStreamEvents = 50

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &dispatch.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &dispatch.Chunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				var parsed map[string]any
				if err := json.Unmarshal([]byte(currentInput.String()), &parsed); err == nil {
					currentCall.Input = parsed
				}
				chunks <- &dispatch.Chunk{ToolCall: currentCall}
				currentCall = nil
			}
			processed = true

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &dispatch.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &dispatch.Chunk{Err: errors.New("anthropic: stream error")}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &dispatch.Chunk{Err: errors.New("anthropic: malformed stream, too many empty events")}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &dispatch.Chunk{Err: fmt.Errorf("anthropic: %w", err)}
	}
}

func convertAnthropicMessages(messages []dispatch.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			for _, r := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func convertAnthropicTools(tools []dispatch.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Schema}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out
}
