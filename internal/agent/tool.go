// Package agent implements the agent runtime: the tool gateway, the history
// compactor, and the loop controller that drives a model until it finishes a
// task or one of the guard rails stops it.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tillerhq/tiller/internal/catalog"
	"github.com/tillerhq/tiller/pkg/models"
)

// Tool is a capability the model can invoke. Execute receives the validated
// JSON input from the model's tool call and returns the output to feed back.
//
// An error return indicates the tool itself broke (I/O failure, bad state);
// errors the model should see and react to belong in ToolOutput with IsError
// set instead. Either way the loop continues: tool failure never terminates
// a run.
type Tool interface {
	Name() string
	Description() string

	// Schema is the JSON Schema for the tool's input, or nil for tools
	// that take none.
	Schema() json.RawMessage

	Execute(ctx context.Context, input json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is what a tool produced. Parts may mix text and images; the
// gateway routes image parts outside the transcript for vendors that cannot
// carry them in tool results.
type ToolOutput struct {
	Parts   []models.ContentPart
	IsError bool
}

// TextOutput builds a plain-text tool output.
func TextOutput(text string) *ToolOutput {
	return &ToolOutput{Parts: []models.ContentPart{models.TextPart(text)}}
}

// ErrorOutput builds a tool output the model should treat as a failure it
// can recover from.
func ErrorOutput(text string) *ToolOutput {
	return &ToolOutput{
		Parts:   []models.ContentPart{models.TextPart(text)},
		IsError: true,
	}
}

// ModelConstrained is optionally implemented by tools that only work with
// certain models (e.g. tools returning images need vision support). The
// gateway filters constrained tools out of the definitions offered to
// incompatible models.
type ModelConstrained interface {
	CompatibleWith(model catalog.Model) bool
}
