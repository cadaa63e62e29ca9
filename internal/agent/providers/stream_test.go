package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventStreamDeliversInOrder(t *testing.T) {
	s := NewEventStream(4)
	go func() {
		ctx := context.Background()
		s.Send(ctx, StreamEvent{Text: "a"})
		s.Send(ctx, StreamEvent{Text: "b"})
		s.Send(ctx, StreamEvent{Done: true, OutputTokens: 2})
		s.Finish(nil)
	}()

	var got []StreamEvent
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 3 || got[0].Text != "a" || got[1].Text != "b" || !got[2].Done {
		t.Fatalf("unexpected events: %+v", got)
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestEventStreamFinishOnlyOnce(t *testing.T) {
	s := NewEventStream(0)
	first := errors.New("boom")
	s.Finish(first)
	s.Finish(errors.New("second completion must be ignored"))

	for range s.Events() {
		t.Fatal("no events expected")
	}
	if !errors.Is(s.Err(), first) {
		t.Errorf("Err() = %v, want %v", s.Err(), first)
	}
}

func TestEventStreamRewritesCancellation(t *testing.T) {
	s := NewEventStream(0)
	s.Finish(context.Canceled)

	var pe *ProviderError
	if !errors.As(s.Err(), &pe) {
		t.Fatalf("Err() = %v, want ProviderError", s.Err())
	}
	if pe.Reason != ReasonCanceled {
		t.Errorf("Reason = %v, want %v", pe.Reason, ReasonCanceled)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Error("cause chain should still reach context.Canceled")
	}
}

func TestEventStreamSendUnblocksOnCancel(t *testing.T) {
	s := NewEventStream(0) // unbuffered, nobody reading
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		done <- s.Send(ctx, StreamEvent{Text: "stuck"})
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Send should report failure after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock on context cancellation")
	}
}
