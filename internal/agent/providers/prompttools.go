package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tillerhq/tiller/pkg/models"
)

// Prompt-injected tool protocol for models without native tool calling.
// The model is instructed to answer with a single JSON object naming the
// tool and its parameters; the scanner below extracts it from freeform text.

// ToolProtocolInstructions renders the protocol section appended to the
// system prompt when a backend cannot accept tool definitions natively.
func ToolProtocolInstructions(tools []models.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("\n\nYou can call tools. To call one, reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"tool": "<name>", "parameters": {<arguments matching the schema>}}` + "\n")
	b.WriteString("Reply with plain text instead when no tool is needed. Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if len(t.Schema) > 0 {
			fmt.Fprintf(&b, "  parameters schema: %s\n", string(t.Schema))
		}
	}
	return b.String()
}

// protocolScanner splits a streamed reply into safe-to-emit text and a
// possible trailing protocol object. Text before the first '{' streams
// through untouched; everything from that point is held until the stream
// ends, because the object's extent is unknowable mid-stream.
type protocolScanner struct {
	full    strings.Builder
	emitted int
	holding bool
}

// feed accepts the next text delta and returns the portion that can be
// emitted immediately.
func (s *protocolScanner) feed(delta string) string {
	s.full.WriteString(delta)
	if s.holding {
		return ""
	}
	text := s.full.String()
	if idx := strings.IndexByte(text[s.emitted:], '{'); idx >= 0 {
		out := text[s.emitted : s.emitted+idx]
		s.emitted += idx
		s.holding = true
		return out
	}
	out := text[s.emitted:]
	s.emitted = len(text)
	return out
}

// finish inspects the held tail. If it contains a protocol object, the call
// is returned with the object excised from the remaining text; otherwise
// the whole tail comes back as text.
func (s *protocolScanner) finish() (string, *models.ToolCall) {
	tail := s.full.String()[s.emitted:]
	for start := strings.IndexByte(tail, '{'); start >= 0; {
		end, ok := scanJSONObject(tail, start)
		if ok {
			if call := parseProtocolCall(tail[start:end]); call != nil {
				return tail[:start] + tail[end:], call
			}
		}
		next := strings.IndexByte(tail[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return tail, nil
}

// scanJSONObject returns the exclusive end offset of the balanced object
// starting at start, tracking strings and escapes.
func scanJSONObject(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func parseProtocolCall(raw string) *models.ToolCall {
	var envelope struct {
		Tool       string          `json:"tool"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil
	}
	name := strings.TrimSpace(envelope.Tool)
	if name == "" {
		return nil
	}
	input := envelope.Parameters
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage(`{}`)
	}
	return &models.ToolCall{
		ID:    uuid.NewString(),
		Name:  name,
		Input: input,
	}
}
