package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tillerhq/tiller/pkg/models"
)

func newTestGateway(tools ...Tool) (*ToolGateway, *ToolRegistry) {
	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			panic(err)
		}
	}
	return NewToolGateway(registry, 0, nil, nil), registry
}

func TestDispatchRunsSequentiallyInOrder(t *testing.T) {
	var order []string
	mk := func(name string) *fakeTool {
		return &fakeTool{
			name:        name,
			description: name,
			fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
				order = append(order, name)
				return TextOutput(name + " done"), nil
			},
		}
	}
	gw, _ := newTestGateway(mk("first"), mk("second"), mk("third"))

	results, _ := gw.Dispatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "first"},
		{ID: "c2", Name: "second"},
		{ID: "c3", Name: "third"},
	})

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	// Sequential execution without a lock in the tools: the recorded order
	// must match the request order.
	if strings.Join(order, ",") != "first,second,third" {
		t.Errorf("execution order = %v", order)
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != id {
			t.Errorf("results[%d].ToolCallID = %s, want %s", i, results[i].ToolCallID, id)
		}
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	boom := &fakeTool{
		name:        "boom",
		description: "always fails",
		fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
			return nil, errors.New("disk on fire")
		},
	}
	panicky := &fakeTool{
		name:        "panicky",
		description: "always panics",
		fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
			panic("unexpected nil")
		},
	}
	ok := &fakeTool{name: "ok", description: "works"}
	gw, _ := newTestGateway(boom, panicky, ok)

	results, _ := gw.Dispatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "boom"},
		{ID: "c2", Name: "panicky"},
		{ID: "c3", Name: "missing"},
		{ID: "c4", Name: "ok"},
	})

	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	for i, wantErr := range []bool{true, true, true, false} {
		if results[i].IsError != wantErr {
			t.Errorf("results[%d].IsError = %v, want %v: %s", i, results[i].IsError, wantErr, results[i].Text())
		}
	}
	if !strings.Contains(results[0].Text(), "disk on fire") {
		t.Errorf("failure text lost: %q", results[0].Text())
	}
	if !strings.Contains(results[1].Text(), "panicked") {
		t.Errorf("panic not reported: %q", results[1].Text())
	}
	if !strings.Contains(results[2].Text(), "unknown tool") {
		t.Errorf("unknown tool not reported: %q", results[2].Text())
	}
	if ok.callCount() != 1 {
		t.Error("later tools must still run after earlier failures")
	}
}

func TestDispatchValidatesInput(t *testing.T) {
	tool := &fakeTool{
		name:        "readFile",
		description: "Read a file",
		schema:      []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	gw, _ := newTestGateway(tool)

	results, _ := gw.Dispatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "readFile", Input: json.RawMessage(`{"path":123}`)},
	})

	if !results[0].IsError {
		t.Fatal("schema-invalid input must be rejected")
	}
	if tool.callCount() != 0 {
		t.Error("tool must not execute on invalid input")
	}
}

func TestDispatchExtractsImages(t *testing.T) {
	tool := &fakeTool{
		name:        "screenshot",
		description: "Take a screenshot",
		fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Parts: []models.ContentPart{
				models.TextPart("captured"),
				models.ImagePart("image/png", []byte{0x89, 0x50}),
			}}, nil
		},
	}
	gw, _ := newTestGateway(tool)

	results, images := gw.Dispatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "screenshot"},
	})

	if len(images) != 1 || images[0].MimeType != "image/png" {
		t.Fatalf("images = %+v", images)
	}
	for _, part := range results[0].Parts {
		if part.Type == models.PartImage {
			t.Error("image parts must not remain in the tool result")
		}
	}
	if results[0].Text() != "captured" {
		t.Errorf("text = %q", results[0].Text())
	}
}

func TestDispatchNormalizesEmptyOutput(t *testing.T) {
	tool := &fakeTool{
		name:        "silent",
		description: "returns nothing",
		fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{}, nil
		},
	}
	gw, _ := newTestGateway(tool)

	results, _ := gw.Dispatch(context.Background(), []models.ToolCall{{ID: "c1", Name: "silent"}})
	if len(results[0].Parts) == 0 || results[0].Text() == "" {
		t.Error("empty tool output must be replaced by a placeholder part")
	}
}

func TestDispatchTimesOutStuckTool(t *testing.T) {
	stuck := &fakeTool{
		name:        "stuck",
		description: "never returns",
		fn: func(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	registry := NewToolRegistry()
	if err := registry.Register(stuck); err != nil {
		t.Fatal(err)
	}
	gw := NewToolGateway(registry, 20*time.Millisecond, nil, nil)

	start := time.Now()
	results, _ := gw.Dispatch(context.Background(), []models.ToolCall{{ID: "c1", Name: "stuck"}})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dispatch blocked for %s", elapsed)
	}
	if !results[0].IsError || !strings.Contains(results[0].Text(), "timed out") {
		t.Errorf("result = %+v", results[0])
	}
}

func TestDispatchCanceledContext(t *testing.T) {
	tool := &fakeTool{name: "step", description: "Step"}
	gw, _ := newTestGateway(tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, _ := gw.Dispatch(ctx, []models.ToolCall{{ID: "c1", Name: "step"}})
	if !results[0].IsError {
		t.Error("canceled dispatch must yield an error result")
	}
	if tool.callCount() != 0 {
		t.Error("tool must not execute after cancellation")
	}
}

func TestRegistryDefinitionsFilterByModel(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(&fakeTool{name: "plain", description: "p"}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(&visionTool{fakeTool{name: "screenshot", description: "s"}}); err != nil {
		t.Fatal(err)
	}

	withVision := registry.Definitions(visionModel(true))
	withoutVision := registry.Definitions(visionModel(false))

	if len(withVision) != 2 {
		t.Errorf("vision model should see both tools, got %d", len(withVision))
	}
	if len(withoutVision) != 1 || withoutVision[0].Name != "plain" {
		t.Errorf("non-vision model definitions = %+v", withoutVision)
	}
}

func TestRegistryDuplicateAndUnregister(t *testing.T) {
	registry := NewToolRegistry()
	if err := registry.Register(&fakeTool{name: "a", description: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(&fakeTool{name: "a", description: "a"}); err == nil {
		t.Error("duplicate registration must fail")
	}
	registry.Unregister("a")
	if _, ok := registry.Get("a"); ok {
		t.Error("tool should be gone after Unregister")
	}
}
