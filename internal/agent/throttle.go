package agent

import (
	"strings"
	"time"
)

// deltaThrottler coalesces streamed text deltas so consumers are not flooded
// with per-token updates. The first delta passes through immediately for
// perceived latency; later deltas are batched until the interval elapses.
// Flush must be called when the stream ends to release the remainder.
type deltaThrottler struct {
	interval time.Duration
	now      func() time.Time

	pending  strings.Builder
	lastEmit time.Time
	emitted  bool
}

func newDeltaThrottler(interval time.Duration) *deltaThrottler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &deltaThrottler{interval: interval, now: time.Now}
}

// Add buffers a delta and returns the batch to emit now, or "" to hold.
func (t *deltaThrottler) Add(delta string) string {
	t.pending.WriteString(delta)
	if t.pending.Len() == 0 {
		return ""
	}

	now := t.now()
	if !t.emitted || now.Sub(t.lastEmit) >= t.interval {
		t.emitted = true
		t.lastEmit = now
		return t.take()
	}
	return ""
}

// Flush returns whatever is still buffered.
func (t *deltaThrottler) Flush() string {
	return t.take()
}

func (t *deltaThrottler) take() string {
	out := t.pending.String()
	t.pending.Reset()
	return out
}
