// Package providers contains the LLM provider adapters and the streaming
// contract they share. Each adapter translates the canonical message model
// to one vendor's wire format, parses the vendor's stream back into
// StreamEvents, and classifies vendor errors into ProviderErrors.
package providers

import (
	"context"

	"github.com/tillerhq/tiller/pkg/models"
)

// ChatRequest is a single model invocation.
type ChatRequest struct {
	// Model is the wire-level model identifier.
	Model string

	// System is the system prompt, kept separate because vendors differ
	// on where it goes.
	System string

	// Messages is the conversation history, oldest first.
	Messages []models.ChatMessage

	// Tools advertises the callable tools. Empty disables tool calling.
	Tools []models.ToolDefinition

	// MaxTokens caps the response length. Zero lets the adapter choose
	// a vendor default.
	MaxTokens int
}

// StreamEvent is one unit of streamed model output. Tool calls are only
// emitted once fully assembled; argument fragments never leave the adapter.
type StreamEvent struct {
	// Text is an incremental piece of visible output.
	Text string

	// Thinking is an incremental piece of reasoning output, for vendors
	// that stream it separately.
	Thinking string

	// ToolCall is a complete, reassembled tool invocation request.
	ToolCall *models.ToolCall

	// Index is the vendor's stream-local block index for the tool call,
	// preserved so multiple parallel calls keep their order.
	Index int

	// Done marks successful stream completion and carries final usage.
	Done         bool
	InputTokens  int
	OutputTokens int
}

// ChatProvider is implemented by every vendor adapter.
//
// Stream returns immediately with an EventStream; the adapter feeds it from
// a goroutine and finishes it exactly once. A non-nil error return means the
// request never started (bad configuration, unconvertible messages).
type ChatProvider interface {
	Stream(ctx context.Context, req *ChatRequest) (*EventStream, error)
	Vendor() string
	SupportsTools() bool
}

// TokenCounter is optionally implemented by adapters whose vendor exposes a
// real token counting endpoint. Callers fall back to a character heuristic
// when the provider does not implement it or the call fails.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, messages []models.ChatMessage) (int, error)
}
