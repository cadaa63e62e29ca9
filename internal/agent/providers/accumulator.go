package providers

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tillerhq/tiller/pkg/models"
)

// toolCallAccumulator reassembles tool calls streamed as fragments. Vendors
// key fragments by a stream-local block index; the ID and name arrive on the
// first fragment, argument JSON is appended piecewise and only becomes a
// ToolCall once the stream signals completion.
type toolCallAccumulator struct {
	pending map[int]*pendingToolCall
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{pending: make(map[int]*pendingToolCall)}
}

// update merges one fragment into the call at index. Empty fields are
// ignored so late fragments cannot clobber the ID or name.
func (a *toolCallAccumulator) update(index int, id, name, argsFragment string) {
	pc := a.pending[index]
	if pc == nil {
		pc = &pendingToolCall{}
		a.pending[index] = pc
	}
	if id != "" {
		pc.id = id
	}
	if name != "" {
		pc.name = name
	}
	if argsFragment != "" {
		pc.args.WriteString(argsFragment)
	}
}

// finalizeOne completes the call at a single index and removes it.
func (a *toolCallAccumulator) finalizeOne(index int) (models.ToolCall, bool) {
	pc := a.pending[index]
	if pc == nil || pc.name == "" {
		delete(a.pending, index)
		return models.ToolCall{}, false
	}
	delete(a.pending, index)
	return pc.toCall(), true
}

// finalize completes all pending calls in index order and resets the
// accumulator. Entries that never received a name are dropped.
func (a *toolCallAccumulator) finalize() []models.ToolCall {
	indexes := make([]int, 0, len(a.pending))
	for i := range a.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var calls []models.ToolCall
	for _, i := range indexes {
		if pc := a.pending[i]; pc != nil && pc.name != "" {
			calls = append(calls, pc.toCall())
		}
	}
	a.pending = make(map[int]*pendingToolCall)
	return calls
}

func (pc *pendingToolCall) toCall() models.ToolCall {
	input := strings.TrimSpace(pc.args.String())
	if input == "" {
		input = "{}"
	}
	return models.ToolCall{
		ID:    pc.id,
		Name:  pc.name,
		Input: json.RawMessage(input),
	}
}
