package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tillerhq/tiller/internal/agent"
)

// builtinTools returns the tools shipped with the CLI. They are deliberately
// read-only: listing and reading files is enough to be useful without letting
// a model mutate the filesystem.
func builtinTools() []agent.Tool {
	return []agent.Tool{
		&listDirectoryTool{},
		&readFileTool{},
	}
}

const maxReadFileBytes = 256 << 10

type listDirectoryTool struct{}

func (t *listDirectoryTool) Name() string        { return "listDirectory" }
func (t *listDirectoryTool) Description() string { return "List the entries of a directory." }

func (t *listDirectoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to list"}
		},
		"required": ["path"]
	}`)
}

func (t *listDirectoryTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolOutput, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	entries, err := os.ReadDir(args.Path)
	if err != nil {
		return agent.ErrorOutput(fmt.Sprintf("cannot list %s: %v", args.Path, err)), nil
	}

	var b strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return agent.TextOutput("(empty directory)"), nil
	}
	return agent.TextOutput(b.String()), nil
}

type readFileTool struct{}

func (t *readFileTool) Name() string        { return "readFile" }
func (t *readFileTool) Description() string { return "Read the contents of a text file." }

func (t *readFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to read"}
		},
		"required": ["path"]
	}`)
}

func (t *readFileTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolOutput, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	info, err := os.Stat(args.Path)
	if err != nil {
		return agent.ErrorOutput(fmt.Sprintf("cannot read %s: %v", args.Path, err)), nil
	}
	if info.IsDir() {
		return agent.ErrorOutput(fmt.Sprintf("%s is a directory; use listDirectory", args.Path)), nil
	}
	if info.Size() > maxReadFileBytes {
		return agent.ErrorOutput(fmt.Sprintf("%s is %d bytes, larger than the %d byte read limit",
			filepath.Base(args.Path), info.Size(), maxReadFileBytes)), nil
	}

	data, err := os.ReadFile(args.Path)
	if err != nil {
		return agent.ErrorOutput(fmt.Sprintf("cannot read %s: %v", args.Path, err)), nil
	}
	return agent.TextOutput(string(data)), nil
}
