package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tillerhq/tiller/internal/agent/providers"
	"github.com/tillerhq/tiller/internal/observability"
	"github.com/tillerhq/tiller/pkg/models"
)

const (
	// compactionThreshold is the fraction of the model's context window at
	// which compaction kicks in.
	compactionThreshold = 0.9

	// compactionKeepFraction is the fraction of trailing history preserved
	// verbatim through a compaction.
	compactionKeepFraction = 0.1
)

const summaryPrompt = "Summarize the conversation so far for your own later reference. " +
	"Keep every fact, decision, open question, file path, and tool result detail " +
	"needed to continue the task. Respond with only the summary."

// Compactor shrinks conversation history when it approaches the model's
// context window. It summarizes the older portion with the same model and
// keeps the tail verbatim. Compaction is best effort: any failure leaves the
// history untouched and the run proceeds with what it has.
type Compactor struct {
	provider providers.ChatProvider
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewCompactor creates a compactor that summarizes through the given
// provider. A nil logger uses slog's default.
func NewCompactor(provider providers.ChatProvider, logger *slog.Logger, metrics *observability.Metrics) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{provider: provider, logger: logger, metrics: metrics}
}

// MaybeCompact returns the history to use for the next request: the input
// unchanged when it fits comfortably, or a compacted version when estimated
// usage crosses the threshold. The returned slice is a fresh allocation when
// compaction happened; callers may keep using the input otherwise.
func (c *Compactor) MaybeCompact(ctx context.Context, history []models.ChatMessage, modelID string, maxInputTokens int) []models.ChatMessage {
	if maxInputTokens <= 0 || len(history) < 2 {
		return history
	}

	used := c.countTokens(ctx, modelID, history)
	if float64(used) < compactionThreshold*float64(maxInputTokens) {
		return history
	}

	keep := int(math.Ceil(compactionKeepFraction * float64(len(history))))
	if keep < 1 {
		keep = 1
	}
	// The tail must not open with a tool_result whose tool_use was
	// summarized away: an orphaned tool-role message is rejected by the
	// vendors. Slide the boundary back until the tail starts on a message
	// that is not mid tool exchange.
	boundary := len(history) - keep
	for boundary > 0 && len(history[boundary].ToolResults()) > 0 {
		boundary--
	}
	head := history[:boundary]
	tail := history[boundary:]
	if len(head) == 0 {
		return history
	}
	keep = len(tail)

	c.logger.Info("compacting history",
		"messages", len(history),
		"keep", keep,
		"estimated_tokens", used,
		"max_input_tokens", maxInputTokens)

	summary, err := c.summarize(ctx, head, modelID, maxInputTokens/10)
	if err != nil {
		c.logger.Warn("compaction failed, keeping full history", "error", err)
		c.countCompaction("failed")
		return history
	}

	compacted := make([]models.ChatMessage, 0, keep+1)
	compacted = append(compacted, models.ChatMessage{
		Role:      models.RoleUser,
		Parts:     []models.ContentPart{models.TextPart("Summary of the conversation so far:\n\n" + summary)},
		Compacted: true,
	})
	compacted = append(compacted, tail...)

	c.countCompaction("applied")
	return compacted
}

// summarize runs one non-tool model request over the head of the history and
// collects the streamed text.
func (c *Compactor) summarize(ctx context.Context, head []models.ChatMessage, modelID string, maxTokens int) (string, error) {
	request := &providers.ChatRequest{
		Model:     modelID,
		Messages:  append(append([]models.ChatMessage{}, head...), models.UserText(summaryPrompt)),
		MaxTokens: maxTokens,
	}

	stream, err := c.provider.Stream(ctx, request)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for ev := range stream.Events() {
		b.WriteString(ev.Text)
	}
	if err := stream.Err(); err != nil {
		return "", err
	}

	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// countTokens asks the provider for an exact count when it supports one and
// falls back to a character heuristic otherwise. The heuristic errs high on
// dense text, which only makes compaction trigger a little earlier.
func (c *Compactor) countTokens(ctx context.Context, modelID string, history []models.ChatMessage) int {
	if counter, ok := c.provider.(providers.TokenCounter); ok {
		if n, err := counter.CountTokens(ctx, modelID, history); err == nil {
			return n
		} else {
			c.logger.Debug("token counting failed, using heuristic", "error", err)
		}
	}

	total := 0
	for _, msg := range history {
		total += estimateMessageTokens(msg)
	}
	return total
}

// estimateMessageTokens approximates tokens as chars/4, rounded up, which is
// close enough for English prose to budget a context window.
func estimateMessageTokens(msg models.ChatMessage) int {
	chars := 0
	for _, part := range msg.Parts {
		chars += len(part.Text)
		chars += len(part.Data)
		if part.ToolCall != nil {
			chars += len(part.ToolCall.Name) + len(part.ToolCall.Input)
		}
		if part.ToolResult != nil {
			for _, rp := range part.ToolResult.Parts {
				chars += len(rp.Text)
				chars += len(rp.Data)
			}
		}
	}
	return (chars + 3) / 4
}

func (c *Compactor) countCompaction(outcome string) {
	if c.metrics != nil {
		c.metrics.CompactionCounter.WithLabelValues(outcome).Inc()
	}
}
