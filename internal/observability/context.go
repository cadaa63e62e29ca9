package observability

import "context"

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	toolCallIDKey contextKey = "tool_call_id"
)

// WithRunID attaches a run correlation ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run correlation ID, or "" when absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// WithToolCallID attaches the current tool call ID to the context.
func WithToolCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, callID)
}

// ToolCallID returns the current tool call ID, or "" when absent.
func ToolCallID(ctx context.Context) string {
	if v, ok := ctx.Value(toolCallIDKey).(string); ok {
		return v
	}
	return ""
}
