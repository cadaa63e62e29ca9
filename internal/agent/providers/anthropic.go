package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tillerhq/tiller/internal/agent/toolconv"
	"github.com/tillerhq/tiller/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive SSE events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey authenticates with the Anthropic API. Required.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, testing). Optional.
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// AnthropicProvider adapts the Anthropic Messages API to the ChatProvider
// contract.
type AnthropicProvider struct {
	client anthropic.Client
	base   baseProvider
}

var (
	_ ChatProvider = (*AnthropicProvider)(nil)
	_ TokenCounter = (*AnthropicProvider)(nil)
)

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		base:   newBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Vendor returns "anthropic".
func (p *AnthropicProvider) Vendor() string {
	return "anthropic"
}

// SupportsTools reports native tool calling support.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// CountTokens asks the API for a real token count of the messages.
func (p *AnthropicProvider) CountTokens(ctx context.Context, model string, messages []models.ChatMessage) (int, error) {
	converted, err := p.convertMessages(messages)
	if err != nil {
		return 0, err
	}
	if len(converted) == 0 {
		return 0, nil
	}
	res, err := p.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(model),
		Messages: converted,
	})
	if err != nil {
		return 0, p.wrapError(err, model)
	}
	return int(res.InputTokens), nil
}

// Stream sends a streaming messages request.
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (*EventStream, error) {
	if req == nil {
		return nil, errors.New("anthropic: request is nil")
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := NewEventStream(16)
	go func() {
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.base.retry(ctx, p.base.exponentialBackoff, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if err := stream.Err(); err != nil {
				return p.wrapError(err, req.Model)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				out.Finish(ctx.Err())
				return
			}
			out.Finish(err)
			return
		}
		p.processStream(ctx, stream, out, req.Model)
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return params, nil
}

// processStream walks the SSE events, reassembling tool calls per content
// block index and emitting text deltas as they arrive.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out *EventStream, model string) {
	acc := newToolCallAccumulator()
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		if ctx.Err() != nil {
			out.Finish(ctx.Err())
			return
		}

		event := stream.Current()
		produced := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			produced = true

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				acc.update(int(blockStart.Index), toolUse.ID, toolUse.Name, "")
				produced = true
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !out.Send(ctx, StreamEvent{Text: delta.Text}) {
						out.Finish(ctx.Err())
						return
					}
					produced = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !out.Send(ctx, StreamEvent{Thinking: delta.Thinking}) {
						out.Finish(ctx.Err())
						return
					}
					produced = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					acc.update(int(blockDelta.Index), "", "", delta.PartialJSON)
					produced = true
				}
			}

		case "content_block_stop":
			blockStop := event.AsContentBlockStop()
			if call, ok := acc.finalizeOne(int(blockStop.Index)); ok {
				if !out.Send(ctx, StreamEvent{ToolCall: &call, Index: int(blockStop.Index)}) {
					out.Finish(ctx.Err())
					return
				}
			}
			produced = true

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			produced = true

		case "message_stop":
			out.Send(ctx, StreamEvent{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			out.Finish(nil)
			return

		case "error":
			out.Finish(p.wrapError(errors.New("anthropic stream error"), model))
			return
		}

		if produced {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out.Finish(p.wrapError(fmt.Errorf("malformed stream: %d consecutive empty events", emptyEvents), model))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out.Finish(p.wrapError(err, model))
		return
	}
	// Stream ended without message_stop; treat what we have as complete.
	out.Send(ctx, StreamEvent{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	out.Finish(nil)
}

// convertMessages maps canonical messages to Anthropic content blocks.
// Thinking parts are dropped on replay; tool results ride in user messages.
func (p *AnthropicProvider) convertMessages(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case models.PartImage:
				content = append(content, anthropic.NewImageBlockBase64(
					part.MimeType,
					base64.StdEncoding.EncodeToString(part.Data),
				))
			case models.PartToolUse:
				if part.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(part.ToolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case models.PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID,
					part.ToolResult.Text(),
					part.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(toolconv.SanitizeSchema(tool.Schema), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

type anthropicErrorPayload struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := (&ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}).WithStatus(apiErr.StatusCode)

		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
