package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tillerhq/tiller/internal/agent/toolconv"
	"github.com/tillerhq/tiller/pkg/models"
)

// LocalServerConfig configures the adapter for a locally hosted
// OpenAI-compatible server (Ollama, LM Studio, llama.cpp server).
type LocalServerConfig struct {
	// BaseURL of the server. Default http://localhost:11434.
	BaseURL string

	// Timeout for the whole streamed request. Default 2 minutes.
	Timeout time.Duration

	// NativeTools advertises tool definitions on the wire. When false,
	// tools are offered through a prompt-injected JSON protocol and the
	// reply text is scanned for calls, since many local models cannot
	// take native tool schemas.
	NativeTools bool
}

// LocalServerProvider adapts a local NDJSON chat server to the ChatProvider
// contract.
type LocalServerProvider struct {
	client      *http.Client
	baseURL     string
	nativeTools bool
}

var _ ChatProvider = (*LocalServerProvider)(nil)

// NewLocalServerProvider creates a local-server adapter.
func NewLocalServerProvider(cfg LocalServerConfig) *LocalServerProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalServerProvider{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		nativeTools: cfg.NativeTools,
	}
}

// Vendor returns "local".
func (p *LocalServerProvider) Vendor() string {
	return "local"
}

// SupportsTools is true either natively or through the prompt protocol.
func (p *LocalServerProvider) SupportsTools() bool {
	return true
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Tools    []openai.Tool      `json:"tools,omitempty"`
	Stream   bool               `json:"stream"`
	Options  map[string]any     `json:"options,omitempty"`
}

type localChatMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	Images    []string        `json:"images,omitempty"`
	ToolCalls []localToolCall `json:"tool_calls,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
}

type localChatResponse struct {
	Message         *localChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error"`
	EvalCount       int               `json:"eval_count"`
	PromptEvalCount int               `json:"prompt_eval_count"`
}

type localToolCall struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function localToolFunction `json:"function"`
}

type localToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Stream sends a streaming chat request over NDJSON.
func (p *LocalServerProvider) Stream(ctx context.Context, req *ChatRequest) (*EventStream, error) {
	if req == nil {
		return nil, errors.New("local: request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, NewProviderError("local", req.Model, errors.New("model is required"))
	}

	promptTools := len(req.Tools) > 0 && !p.nativeTools

	system := req.System
	if promptTools {
		system += ToolProtocolInstructions(req.Tools)
	}

	payload := localChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildLocalMessages(req.Messages, system),
	}
	if len(req.Tools) > 0 && p.nativeTools {
		payload.Tools = toolconv.ToOpenAITools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("local", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("local", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("local", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewProviderError("local", model, fmt.Errorf("server status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewProviderError("local", model, fmt.Errorf("server status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	out := NewEventStream(16)
	go p.streamResponse(ctx, resp.Body, out, model, promptTools)
	return out, nil
}

func (p *LocalServerProvider) streamResponse(ctx context.Context, body io.ReadCloser, out *EventStream, model string, promptTools bool) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var protocol protocolScanner
	emitted := map[string]struct{}{}
	callIndex := 0

	emitCall := func(call *models.ToolCall) bool {
		if _, ok := emitted[call.ID]; ok {
			return true
		}
		emitted[call.ID] = struct{}{}
		ok := out.Send(ctx, StreamEvent{ToolCall: call, Index: callIndex})
		callIndex++
		return ok
	}

	finishDone := func(resp localChatResponse) {
		if promptTools {
			tail, call := protocol.finish()
			if tail != "" && !out.Send(ctx, StreamEvent{Text: tail}) {
				out.Finish(ctx.Err())
				return
			}
			if call != nil && !emitCall(call) {
				out.Finish(ctx.Err())
				return
			}
		}
		out.Send(ctx, StreamEvent{
			Done:         true,
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		})
		out.Finish(nil)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			out.Finish(ctx.Err())
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp localChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out.Finish(NewProviderError("local", model, fmt.Errorf("decode response: %w", err)))
			return
		}
		if resp.Error != "" {
			out.Finish(NewProviderError("local", model, errors.New(resp.Error)))
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				text := resp.Message.Content
				if promptTools {
					text = protocol.feed(text)
				}
				if text != "" && !out.Send(ctx, StreamEvent{Text: text}) {
					out.Finish(ctx.Err())
					return
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = localCallKey(tc)
					if callID == "" {
						callID = uuid.NewString()
					}
				}
				call := &models.ToolCall{
					ID:    callID,
					Name:  strings.TrimSpace(tc.Function.Name),
					Input: json.RawMessage(`{}`),
				}
				if len(tc.Function.Arguments) > 0 {
					call.Input = tc.Function.Arguments
				}
				if !emitCall(call) {
					out.Finish(ctx.Err())
					return
				}
			}
		}

		if resp.Done {
			finishDone(resp)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out.Finish(NewProviderError("local", model, err))
		return
	}
	// Server closed the stream without a done marker.
	finishDone(localChatResponse{})
}

// buildLocalMessages flattens canonical messages to the local chat wire
// format. Tool results become tool-role messages keyed by function name.
func buildLocalMessages(history []models.ChatMessage, system string) []localChatMessage {
	messages := make([]localChatMessage, 0, len(history)+1)

	toolNames := map[string]string{}
	for _, msg := range history {
		for _, call := range msg.ToolCalls() {
			if call.ID != "" && call.Name != "" {
				toolNames[call.ID] = call.Name
			}
		}
	}

	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, localChatMessage{Role: "system", Content: system})
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			messages = append(messages, localChatMessage{Role: "system", Content: msg.Text()})

		case models.RoleAssistant:
			localMsg := localChatMessage{Role: "assistant", Content: msg.Text()}
			for _, call := range msg.ToolCalls() {
				args := call.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				localMsg.ToolCalls = append(localMsg.ToolCalls, localToolCall{
					ID:   call.ID,
					Type: "function",
					Function: localToolFunction{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, localMsg)

		default:
			toolResults := msg.ToolResults()
			if len(toolResults) > 0 {
				for _, tr := range toolResults {
					messages = append(messages, localChatMessage{
						Role:     "tool",
						Content:  tr.Text(),
						ToolName: toolNames[tr.ToolCallID],
					})
				}
				continue
			}
			localMsg := localChatMessage{Role: "user", Content: msg.Text()}
			for _, part := range msg.Parts {
				if part.Type == models.PartImage {
					localMsg.Images = append(localMsg.Images, base64.StdEncoding.EncodeToString(part.Data))
				}
			}
			messages = append(messages, localMsg)
		}
	}

	return messages
}

func localCallKey(tc localToolCall) string {
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}
