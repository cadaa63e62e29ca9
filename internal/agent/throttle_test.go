package agent

import (
	"testing"
	"time"
)

func TestThrottlerEmitsFirstDeltaImmediately(t *testing.T) {
	th := newDeltaThrottler(100 * time.Millisecond)
	clock := time.Unix(0, 0)
	th.now = func() time.Time { return clock }

	if got := th.Add("Hel"); got != "Hel" {
		t.Errorf("first delta = %q, want immediate emit", got)
	}
}

func TestThrottlerBatchesUntilInterval(t *testing.T) {
	th := newDeltaThrottler(100 * time.Millisecond)
	clock := time.Unix(0, 0)
	th.now = func() time.Time { return clock }

	th.Add("a")
	if got := th.Add("b"); got != "" {
		t.Errorf("delta inside interval = %q, want held", got)
	}
	if got := th.Add("c"); got != "" {
		t.Errorf("delta inside interval = %q, want held", got)
	}

	clock = clock.Add(150 * time.Millisecond)
	if got := th.Add("d"); got != "bcd" {
		t.Errorf("batch after interval = %q, want %q", got, "bcd")
	}
}

func TestThrottlerFlushReleasesRemainder(t *testing.T) {
	th := newDeltaThrottler(100 * time.Millisecond)
	clock := time.Unix(0, 0)
	th.now = func() time.Time { return clock }

	th.Add("a")
	th.Add("tail")
	if got := th.Flush(); got != "tail" {
		t.Errorf("flush = %q, want %q", got, "tail")
	}
	if got := th.Flush(); got != "" {
		t.Errorf("second flush = %q, want empty", got)
	}
}

func TestThrottlerIgnoresEmptyDeltas(t *testing.T) {
	th := newDeltaThrottler(100 * time.Millisecond)
	if got := th.Add(""); got != "" {
		t.Errorf("empty delta emitted %q", got)
	}
}
