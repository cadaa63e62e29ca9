package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tillerhq/tiller/internal/agent/toolconv"
	"github.com/tillerhq/tiller/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey authenticates with the OpenAI API. Required.
	APIKey string

	// BaseURL overrides the API endpoint. Optional.
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// OpenAIProvider adapts the OpenAI chat completions API to the ChatProvider
// contract.
type OpenAIProvider struct {
	client *openai.Client
	base   baseProvider
}

var _ ChatProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI adapter.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		base:   newBaseProvider("openai", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Vendor returns "openai".
func (p *OpenAIProvider) Vendor() string {
	return "openai"
}

// SupportsTools reports native tool calling support.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Stream sends a streaming chat completion request.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (*EventStream, error) {
	if req == nil {
		return nil, errors.New("openai: request is nil")
	}

	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	out := NewEventStream(16)
	go func() {
		var stream *openai.ChatCompletionStream
		err := p.base.retry(ctx, p.base.linearBackoff, func() error {
			var createErr error
			stream, createErr = p.client.CreateChatCompletionStream(ctx, chatReq)
			if createErr != nil {
				return p.wrapError(createErr, req.Model)
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

// processStream reads the delta stream, emitting text immediately and
// reassembling tool calls by index until the finish reason or EOF.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out *EventStream, model string) {
	defer stream.Close()

	acc := newToolCallAccumulator()
	var inputTokens, outputTokens int

	flushCalls := func() bool {
		for i, call := range acc.finalize() {
			c := call
			if !out.Send(ctx, StreamEvent{ToolCall: &c, Index: i}) {
				return false
			}
		}
		return true
	}

	for {
		if ctx.Err() != nil {
			out.Finish(ctx.Err())
			return
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushCalls() {
					out.Finish(ctx.Err())
					return
				}
				out.Send(ctx, StreamEvent{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				})
				out.Finish(nil)
				return
			}
			out.Finish(p.wrapError(err, model))
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !out.Send(ctx, StreamEvent{Text: choice.Delta.Content}) {
				out.Finish(ctx.Err())
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			acc.update(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushCalls() {
				out.Finish(ctx.Err())
				return
			}
		}
	}
}

// convertMessages maps canonical messages to OpenAI chat messages. The
// system prompt becomes the leading system message; tool results each
// become a separate tool-role message, as the wire format requires.
func (p *OpenAIProvider) convertMessages(messages []models.ChatMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		case models.RoleUser:
			toolResults := msg.ToolResults()
			if len(toolResults) > 0 {
				for _, tr := range toolResults {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: tr.ToolCallID,
						Content:    tr.Text(),
					})
				}
				// Images extracted from tool output ride in a separate
				// user message; the tool role only carries text.
				if hasImageParts(msg) {
					result = append(result, openai.ChatCompletionMessage{
						Role:         openai.ChatMessageRoleUser,
						MultiContent: imageParts(msg),
					})
				}
				continue
			}

			if hasImageParts(msg) {
				var parts []openai.ChatMessagePart
				for _, part := range msg.Parts {
					switch part.Type {
					case models.PartText:
						if part.Text != "" {
							parts = append(parts, openai.ChatMessagePart{
								Type: openai.ChatMessagePartTypeText,
								Text: part.Text,
							})
						}
					case models.PartImage:
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    dataURL(part.MimeType, part.Data),
								Detail: openai.ImageURLDetailAuto,
							},
						})
					}
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: parts,
				})
				continue
			}

			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})
		}
	}

	return result, nil
}

func imageParts(msg models.ChatMessage) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	for _, part := range msg.Parts {
		if part.Type != models.PartImage {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(part.MimeType, part.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return parts
}

func hasImageParts(msg models.ChatMessage) bool {
	for _, part := range msg.Parts {
		if part.Type == models.PartImage {
			return true
		}
	}
	return false
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := (&ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}).WithStatus(apiErr.HTTPStatusCode)

		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
