package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tillerhq/tiller/internal/agent/providers"
	"github.com/tillerhq/tiller/internal/catalog"
	"github.com/tillerhq/tiller/pkg/models"
)

// scriptedCall is one model response for the fake provider to play back.
type scriptedCall struct {
	events []providers.StreamEvent
	err    error
}

// fakeProvider replays scripted responses in request order and records the
// requests it was given. When the script runs out, the last entry repeats.
type fakeProvider struct {
	mu       sync.Mutex
	script   []scriptedCall
	requests []providers.ChatRequest
}

var _ providers.ChatProvider = (*fakeProvider)(nil)

func (p *fakeProvider) Stream(ctx context.Context, req *providers.ChatRequest) (*providers.EventStream, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, *req)
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	call := p.script[idx]
	p.mu.Unlock()

	out := providers.NewEventStream(16)
	go func() {
		for _, ev := range call.events {
			if !out.Send(ctx, ev) {
				out.Finish(ctx.Err())
				return
			}
		}
		out.Finish(call.err)
	}()
	return out, nil
}

func (p *fakeProvider) Vendor() string      { return "fake" }
func (p *fakeProvider) SupportsTools() bool { return true }

func (p *fakeProvider) recorded() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.ChatRequest{}, p.requests...)
}

func textEvents(chunks ...string) []providers.StreamEvent {
	var events []providers.StreamEvent
	for _, c := range chunks {
		events = append(events, providers.StreamEvent{Text: c})
	}
	return events
}

func doneEvent(input, output int) providers.StreamEvent {
	return providers.StreamEvent{Done: true, InputTokens: input, OutputTokens: output}
}

func toolCallEvent(id, name, input string) providers.StreamEvent {
	return providers.StreamEvent{ToolCall: &models.ToolCall{
		ID:    id,
		Name:  name,
		Input: json.RawMessage(input),
	}}
}

// fakeTool records its invocations and answers from a fixed function.
type fakeTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, input json.RawMessage) (*ToolOutput, error)

	mu     sync.Mutex
	inputs []json.RawMessage
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return t.description }
func (t *fakeTool) Schema() json.RawMessage { return t.schema }

func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, append(json.RawMessage{}, input...))
	t.mu.Unlock()
	if t.fn != nil {
		return t.fn(ctx, input)
	}
	return TextOutput("ok"), nil
}

func (t *fakeTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inputs)
}

// visionTool is a fake tool only compatible with vision-capable models.
type visionTool struct {
	fakeTool
}

func (t *visionTool) CompatibleWith(model catalog.Model) bool {
	return model.SupportsVision
}

func visionModel(vision bool) catalog.Model {
	return catalog.Model{ID: "m", Vendor: catalog.Vendor("fake"), SupportsVision: vision}
}

// testRuntime wires a runtime over the fake provider and a one-model catalog.
func testRuntime(provider providers.ChatProvider, tools ...Tool) (*Runtime, *catalog.Catalog) {
	cat := catalog.New()
	cat.Register(catalog.Model{
		ID:                "fake-model",
		Name:              "Fake",
		Vendor:            catalog.Vendor("fake"),
		MaxInputTokens:    100000,
		MaxOutputTokens:   4096,
		NativeToolCalling: true,
	})

	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			panic(err)
		}
	}

	rt, err := NewRuntime(RuntimeConfig{
		Catalog:  cat,
		Registry: registry,
		Providers: map[catalog.Vendor]providers.ChatProvider{
			catalog.Vendor("fake"): provider,
		},
	})
	if err != nil {
		panic(err)
	}
	return rt, cat
}
