package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tillerhq/tiller/internal/agent/toolconv"
	"github.com/tillerhq/tiller/internal/observability"
	"github.com/tillerhq/tiller/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// ToolGateway dispatches the model's tool calls against the registry. Calls
// within one assistant turn run sequentially in request order, each isolated:
// an unknown tool, invalid input, panic, timeout, or execution error produces
// an error result for that call and the batch continues.
type ToolGateway struct {
	registry *ToolRegistry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewToolGateway creates a gateway over the given registry. A zero timeout
// uses DefaultToolTimeout; a nil logger uses slog's default.
func NewToolGateway(registry *ToolRegistry, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *ToolGateway {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolGateway{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch executes the calls in order and returns one result per call, in
// the same order. Image parts produced by tools are stripped from the results
// and returned separately, since several vendors only accept text in tool
// results; the caller attaches them to a user message instead.
//
// Context cancellation stops the batch: remaining calls get an error result
// without executing.
func (g *ToolGateway) Dispatch(ctx context.Context, calls []models.ToolCall) ([]models.ToolResult, []models.ContentPart) {
	results := make([]models.ToolResult, 0, len(calls))
	var images []models.ContentPart

	for _, call := range calls {
		if ctx.Err() != nil {
			results = append(results, errorResult(call.ID, "tool execution canceled"))
			continue
		}

		result := g.dispatchOne(ctx, call)

		kept := result.Parts[:0]
		for _, part := range result.Parts {
			if part.Type == models.PartImage {
				images = append(images, part)
				continue
			}
			kept = append(kept, part)
		}
		result.Parts = kept
		if len(result.Parts) == 0 {
			result.Parts = []models.ContentPart{models.TextPart("(tool produced no text output)")}
		}

		results = append(results, result)
	}

	return results, images
}

func (g *ToolGateway) dispatchOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	logger := g.logger.With("tool", call.Name, "call_id", call.ID)
	if runID := observability.RunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}

	tool, ok := g.registry.Get(call.Name)
	if !ok {
		logger.Warn("model requested unknown tool")
		g.countExecution(call.Name, "error")
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if err := toolconv.ValidateInput(tool.Schema(), call.Input); err != nil {
		logger.Warn("tool input rejected", "error", err)
		g.countExecution(call.Name, "error")
		return errorResult(call.ID, fmt.Sprintf("invalid input for tool %q: %v", call.Name, err))
	}

	ctx = observability.WithToolCallID(ctx, call.ID)
	execCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	output, err := g.execute(execCtx, tool, call)
	elapsed := time.Since(start)

	if g.metrics != nil {
		g.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}

	switch {
	case err != nil && execCtx.Err() == context.DeadlineExceeded:
		logger.Warn("tool timed out", "timeout", g.timeout)
		g.countExecution(call.Name, "error")
		return errorResult(call.ID, fmt.Sprintf("tool %q timed out after %s", call.Name, g.timeout))
	case err != nil:
		logger.Warn("tool failed", "error", err, "duration", elapsed)
		g.countExecution(call.Name, "error")
		return errorResult(call.ID, fmt.Sprintf("tool %q failed: %v", call.Name, err))
	}

	logger.Debug("tool executed", "duration", elapsed, "is_error", output.IsError)
	if output.IsError {
		g.countExecution(call.Name, "error")
	} else {
		g.countExecution(call.Name, "success")
	}

	return models.ToolResult{
		ToolCallID: call.ID,
		Parts:      output.Parts,
		IsError:    output.IsError,
	}
}

// execute runs the tool in its own goroutine so a timeout is enforceable even
// against tools that ignore their context. A late result from an abandoned
// goroutine is logged and discarded.
func (g *ToolGateway) execute(ctx context.Context, tool Tool, call models.ToolCall) (*ToolOutput, error) {
	type outcome struct {
		output *ToolOutput
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", r,
					"stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := tool.Execute(ctx, call.Input)
		select {
		case done <- outcome{output: output, err: err}:
		default:
			g.logger.Warn("discarding tool result delivered after timeout", "tool", call.Name)
		}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.output == nil {
			o.output = &ToolOutput{}
		}
		return o.output, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *ToolGateway) countExecution(tool, status string) {
	if g.metrics != nil {
		g.metrics.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	}
}

func errorResult(callID, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: callID,
		Parts:      []models.ContentPart{models.TextPart(message)},
		IsError:    true,
	}
}
