package models

import (
	"encoding/json"
	"testing"
)

func TestMessageText(t *testing.T) {
	msg := ChatMessage{
		Role: RoleAssistant,
		Parts: []ContentPart{
			ThinkingPart("pondering"),
			TextPart("Hello, "),
			TextPart("world"),
			ToolUsePart(ToolCall{ID: "1", Name: "search"}),
		},
	}
	if got := msg.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q, want %q", got, "Hello, world")
	}
}

func TestMessageToolCalls(t *testing.T) {
	msg := ChatMessage{
		Role: RoleAssistant,
		Parts: []ContentPart{
			TextPart("Let me check."),
			ToolUsePart(ToolCall{ID: "a", Name: "read", Input: json.RawMessage(`{"path":"x"}`)}),
			ToolUsePart(ToolCall{ID: "b", Name: "list", Input: json.RawMessage(`{}`)}),
		},
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "a" || calls[1].ID != "b" {
		t.Errorf("tool call order not preserved: %q, %q", calls[0].ID, calls[1].ID)
	}
}

func TestToolResultText(t *testing.T) {
	result := ToolResult{
		ToolCallID: "a",
		Parts: []ContentPart{
			TextPart("line one\n"),
			ImagePart("image/png", []byte{1, 2, 3}),
			TextPart("line two"),
		},
	}
	if got := result.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	in := ChatMessage{
		Role: RoleUser,
		Parts: []ContentPart{
			ToolResultPart(ToolResult{
				ToolCallID: "call_1",
				Parts:      []ContentPart{TextPart("ok")},
				IsError:    true,
			}),
		},
		Compacted: true,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ChatMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Compacted {
		t.Error("Compacted flag lost")
	}
	results := out.ToolResults()
	if len(results) != 1 || results[0].ToolCallID != "call_1" || !results[0].IsError {
		t.Errorf("tool result not preserved: %+v", results)
	}
}
