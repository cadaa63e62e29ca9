package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tillerhq/tiller/internal/agent/toolconv"
	"github.com/tillerhq/tiller/pkg/models"
)

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	// APIKey authenticates with the Gemini API. Required.
	APIKey string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// GoogleProvider adapts the Gemini API to the ChatProvider contract.
// Gemini does not assign tool call IDs, so the adapter synthesizes them and
// maps results back to function names when replaying history.
type GoogleProvider struct {
	client *genai.Client
	base   baseProvider
}

var _ ChatProvider = (*GoogleProvider)(nil)

// NewGoogleProvider creates a Gemini adapter.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client: client,
		base:   newBaseProvider("google", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Vendor returns "google".
func (p *GoogleProvider) Vendor() string {
	return "google"
}

// SupportsTools reports native tool calling support.
func (p *GoogleProvider) SupportsTools() bool {
	return true
}

// Stream sends a streaming generate-content request.
func (p *GoogleProvider) Stream(ctx context.Context, req *ChatRequest) (*EventStream, error) {
	if req == nil {
		return nil, errors.New("google: request is nil")
	}

	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: failed to convert messages: %w", err)
	}
	config := p.buildConfig(req)

	out := NewEventStream(16)
	go func() {
		err := p.base.retry(ctx, p.base.exponentialBackoff, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
			return p.processStream(ctx, streamIter, out, req.Model)
		})
		if err != nil {
			if ctx.Err() != nil {
				out.Finish(ctx.Err())
				return
			}
			out.Finish(err)
			return
		}
		out.Finish(nil)
	}()

	return out, nil
}

// processStream consumes the response iterator. A nil return means Done was
// emitted; retryable errors propagate so the retry wrapper can reissue the
// whole request (no partial output has been sent in that case only if
// nothing was emitted, so emission disables retrying via wrapped errors).
func (p *GoogleProvider) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out *EventStream, model string) error {
	var inputTokens, outputTokens int
	emittedAny := false
	index := 0

	for resp, err := range streamIter {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			wrapped := p.wrapError(err, model)
			if emittedAny {
				// Too late to transparently retry a half-delivered stream.
				out.Finish(wrapped)
				return nil
			}
			return wrapped
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			if resp.UsageMetadata.PromptTokenCount > 0 {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			}
			if resp.UsageMetadata.CandidatesTokenCount > 0 {
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					ev := StreamEvent{Text: part.Text}
					if part.Thought {
						ev = StreamEvent{Thinking: part.Text}
					}
					if !out.Send(ctx, ev) {
						return ctx.Err()
					}
					emittedAny = true
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					call := &models.ToolCall{
						ID:    googleCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}
					if !out.Send(ctx, StreamEvent{ToolCall: call, Index: index}) {
						return ctx.Err()
					}
					index++
					emittedAny = true
				}
			}
		}
	}

	out.Send(ctx, StreamEvent{
		Done:         true,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
	return nil
}

func (p *GoogleProvider) buildConfig(req *ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	return config
}

// convertMessages maps canonical messages to Gemini contents. Tool results
// become function response parts keyed by name; the name is recovered from
// the call the result answers.
func (p *GoogleProvider) convertMessages(messages []models.ChatMessage) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}
			case models.PartImage:
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{
						Data:     part.Data,
						MIMEType: part.MimeType,
					},
				})
			case models.PartToolUse:
				if part.ToolCall == nil {
					continue
				}
				var args map[string]any
				if err := json.Unmarshal(part.ToolCall.Input, &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: part.ToolCall.Name,
						Args: args,
					},
				})
			case models.PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				text := part.ToolResult.Text()
				var response map[string]any
				if err := json.Unmarshal([]byte(text), &response); err != nil {
					response = map[string]any{
						"result": text,
						"error":  part.ToolResult.IsError,
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolNameForCall(part.ToolResult.ToolCallID, messages),
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// googleCallID synthesizes a call ID since Gemini does not provide one.
// The name prefix keeps the ID reversible for history replay.
func googleCallID(name string) string {
	return "call_" + name + "_" + uuid.NewString()
}

// toolNameForCall recovers the function name for a result by finding the
// call it answers, falling back to the synthetic ID format.
func toolNameForCall(callID string, messages []models.ChatMessage) string {
	for _, msg := range messages {
		for _, call := range msg.ToolCalls() {
			if call.ID == callID {
				return call.Name
			}
		}
	}
	if parts := strings.Split(callID, "_"); len(parts) >= 3 && parts[0] == "call" {
		return strings.Join(parts[1:len(parts)-1], "_")
	}
	return callID
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "invalid argument"), strings.Contains(errMsg, "400"):
		providerErr = providerErr.WithStatus(http.StatusBadRequest)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}
