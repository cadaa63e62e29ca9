// Package toolconv converts tool definitions between the canonical catalog
// format and vendor wire formats, and validates tool inputs against their
// declared schemas.
package toolconv

import (
	"encoding/json"

	"github.com/tillerhq/tiller/pkg/models"
)

// allowedSchemaKeys is the portable subset of JSON Schema every supported
// vendor accepts. Anything else (vendor extensions, $defs, format hints)
// gets stripped before a schema crosses the wire.
var allowedSchemaKeys = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
}

// SanitizeSchema returns a copy of the schema reduced to the whitelisted
// keys, applied recursively through properties and items. Unparseable
// schemas collapse to an empty object schema rather than failing the
// request.
func SanitizeSchema(schema json.RawMessage) json.RawMessage {
	m := SanitizeSchemaMap(schema)
	out, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

// SanitizeSchemaMap is SanitizeSchema returning the decoded form, for
// vendors whose SDKs take maps instead of raw JSON.
func SanitizeSchemaMap(schema json.RawMessage) map[string]any {
	var m map[string]any
	if len(schema) == 0 || json.Unmarshal(schema, &m) != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return sanitizeNode(m)
}

func sanitizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		if !allowedSchemaKeys[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				continue
			}
			cleaned := make(map[string]any, len(props))
			for name, sub := range props {
				if subMap, ok := sub.(map[string]any); ok {
					cleaned[name] = sanitizeNode(subMap)
				}
			}
			out[key] = cleaned
		case "items":
			switch items := value.(type) {
			case map[string]any:
				out[key] = sanitizeNode(items)
			case []any:
				cleaned := make([]any, 0, len(items))
				for _, sub := range items {
					if subMap, ok := sub.(map[string]any); ok {
						cleaned = append(cleaned, sanitizeNode(subMap))
					}
				}
				out[key] = cleaned
			}
		default:
			out[key] = value
		}
	}
	return out
}

// Sanitize returns the definitions with every schema reduced to the
// portable subset.
func Sanitize(tools []models.ToolDefinition) []models.ToolDefinition {
	out := make([]models.ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = models.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      SanitizeSchema(t.Schema),
		}
	}
	return out
}
