// Package models defines the canonical message format exchanged between the
// agent runtime, tool gateway, and provider adapters.
package models

import (
	"encoding/json"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the content part variants.
type PartType string

const (
	PartText       PartType = "text"
	PartThinking   PartType = "thinking"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ContentPart is one element of a message body. Exactly the fields for the
// declared Type are set; adapters translate each variant to the vendor wire
// format and drop what a vendor cannot represent (e.g. thinking on replay).
type ContentPart struct {
	Type PartType `json:"type"`

	// Text holds the content for text and thinking parts.
	Text string `json:"text,omitempty"`

	// MimeType and Data describe an image part. Data is the raw bytes;
	// adapters base64-encode as needed.
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`

	// ToolCall is set for tool_use parts.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult is set for tool_result parts.
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// Continuation is an opaque vendor token some providers attach to a
	// call and expect echoed back with the result. Empty for most vendors.
	Continuation string `json:"continuation,omitempty"`
}

// ToolResult is the outcome of a tool execution, keyed back to the call.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Parts      []ContentPart `json:"parts"`
	IsError    bool          `json:"is_error,omitempty"`
}

// Text concatenates the text parts of the result. Wire formats that only
// accept plain-text tool output use this.
func (r ToolResult) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolDefinition is a catalog entry describing a tool to a provider:
// name, natural-language description, and a JSON Schema for the input.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ChatMessage is the unified conversation entry. A message always has at
// least one part.
type ChatMessage struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`

	// Compacted marks a synthetic summary entry produced by history
	// compaction, so it is never summarized again.
	Compacted bool `json:"compacted,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ThinkingPart builds a thinking content part.
func ThinkingPart(text string) ContentPart {
	return ContentPart{Type: PartThinking, Text: text}
}

// ImagePart builds an image content part from raw bytes.
func ImagePart(mimeType string, data []byte) ContentPart {
	return ContentPart{Type: PartImage, MimeType: mimeType, Data: data}
}

// ToolUsePart wraps a tool call as a content part.
func ToolUsePart(call ToolCall) ContentPart {
	return ContentPart{Type: PartToolUse, ToolCall: &call}
}

// ToolResultPart wraps a tool result as a content part.
func ToolResultPart(result ToolResult) ContentPart {
	return ContentPart{Type: PartToolResult, ToolResult: &result}
}

// UserText builds a single-part user message.
func UserText(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Parts: []ContentPart{TextPart(text)}}
}

// AssistantText builds a single-part assistant message.
func AssistantText(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Parts: []ContentPart{TextPart(text)}}
}

// SystemText builds a single-part system message.
func SystemText(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Parts: []ContentPart{TextPart(text)}}
}

// Text concatenates the message's text parts.
func (m ChatMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls carried by this message, in part order.
func (m ChatMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolUse && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool results carried by this message, in part order.
func (m ChatMessage) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}
