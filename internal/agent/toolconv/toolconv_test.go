package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/tillerhq/tiller/pkg/models"
)

func TestSanitizeStripsUnknownKeys(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"description": "args",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": {
			"path": {"type": "string", "format": "uri", "description": "target"},
			"tags": {"type": "array", "items": {"type": "string", "minLength": 1}}
		},
		"required": ["path"]
	}`)

	got := SanitizeSchemaMap(schema)

	if _, ok := got["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	if _, ok := got["additionalProperties"]; ok {
		t.Error("additionalProperties should be stripped")
	}
	props := got["properties"].(map[string]any)
	path := props["path"].(map[string]any)
	if _, ok := path["format"]; ok {
		t.Error("nested format should be stripped")
	}
	if path["description"] != "target" {
		t.Error("whitelisted nested keys should survive")
	}
	items := props["tags"].(map[string]any)["items"].(map[string]any)
	if _, ok := items["minLength"]; ok {
		t.Error("keys inside items should be sanitized too")
	}
	if req, ok := got["required"].([]any); !ok || len(req) != 1 {
		t.Errorf("required lost: %v", got["required"])
	}
}

func TestSanitizeBadSchemaFallsBackToEmptyObject(t *testing.T) {
	got := SanitizeSchemaMap(json.RawMessage(`not json`))
	if got["type"] != "object" {
		t.Errorf("fallback schema wrong: %v", got)
	}
}

func TestToOpenAITools(t *testing.T) {
	defs := []models.ToolDefinition{
		{
			Name:        "readFile",
			Description: "Read a file",
			Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
	}
	tools := ToOpenAITools(defs)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	fn := tools[0].Function
	if fn.Name != "readFile" || fn.Description != "Read a file" {
		t.Errorf("identity wrong: %+v", fn)
	}
	params := fn.Parameters.(map[string]any)
	if params["type"] != "object" {
		t.Errorf("parameters wrong: %v", params)
	}
	if ToOpenAITools(nil) != nil {
		t.Error("no tools should convert to nil")
	}
}

func TestToGeminiTools(t *testing.T) {
	defs := []models.ToolDefinition{
		{
			Name:        "search",
			Description: "Search",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "enum": ["a", "b"]},
					"limit": {"type": "integer"}
				},
				"required": ["query"]
			}`),
		},
	}
	tools := ToGeminiTools(defs)
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected shape: %+v", tools)
	}
	decl := tools[0].FunctionDeclarations[0]
	if decl.Name != "search" {
		t.Errorf("Name = %q", decl.Name)
	}
	if decl.Parameters.Type != "OBJECT" {
		t.Errorf("Type = %q", decl.Parameters.Type)
	}
	query := decl.Parameters.Properties["query"]
	if query == nil || len(query.Enum) != 2 {
		t.Errorf("query schema wrong: %+v", query)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "query" {
		t.Errorf("required wrong: %v", decl.Parameters.Required)
	}
}

func TestValidateInput(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)

	if err := ValidateInput(schema, json.RawMessage(`{"path":"."}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := ValidateInput(schema, json.RawMessage(`{"path":7}`)); err == nil {
		t.Error("wrong type should be rejected")
	}
	if err := ValidateInput(schema, json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field should be rejected")
	}
	if err := ValidateInput(schema, json.RawMessage(`{broken`)); err == nil {
		t.Error("malformed input JSON should be rejected")
	}
	if err := ValidateInput(nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("empty schema should accept anything: %v", err)
	}
}
