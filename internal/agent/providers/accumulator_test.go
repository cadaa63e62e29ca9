package providers

import (
	"encoding/json"
	"testing"
)

func TestAccumulatorReassemblesFragments(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.update(0, "call_1", "search", "")
	acc.update(0, "", "", `{"que`)
	acc.update(0, "", "", `ry":"weather`)
	acc.update(0, "", "", ` in sf"}`)

	call, ok := acc.finalizeOne(0)
	if !ok {
		t.Fatal("expected finalized call")
	}
	if call.ID != "call_1" || call.Name != "search" {
		t.Errorf("identity wrong: %+v", call)
	}
	var args map[string]string
	if err := json.Unmarshal(call.Input, &args); err != nil {
		t.Fatalf("reassembled input is not valid JSON: %v", err)
	}
	if args["query"] != "weather in sf" {
		t.Errorf("query = %q", args["query"])
	}
}

func TestAccumulatorParallelCallsKeepIndexOrder(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.update(1, "call_b", "second", `{"n":2}`)
	acc.update(0, "call_a", "first", `{"n":1}`)

	calls := acc.finalize()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("order wrong: %s, %s", calls[0].Name, calls[1].Name)
	}
	if len(acc.pending) != 0 {
		t.Error("finalize should reset pending state")
	}
}

func TestAccumulatorEmptyArgsBecomeEmptyObject(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.update(0, "call_1", "ping", "")

	call, ok := acc.finalizeOne(0)
	if !ok {
		t.Fatal("expected finalized call")
	}
	if string(call.Input) != "{}" {
		t.Errorf("Input = %s, want {}", call.Input)
	}
}

func TestAccumulatorDropsNamelessEntries(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.update(0, "call_1", "", `{"orphan":true}`)

	if _, ok := acc.finalizeOne(0); ok {
		t.Error("nameless call should not finalize")
	}
	if calls := acc.finalize(); len(calls) != 0 {
		t.Errorf("expected no calls, got %v", calls)
	}
}
