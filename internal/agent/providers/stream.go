package providers

import (
	"context"
	"errors"
	"sync"
)

// EventStream is a single-producer single-consumer stream of model output.
// The producing adapter sends events and calls Finish exactly once; the
// consumer ranges over Events and reads Err after the channel closes.
type EventStream struct {
	events chan StreamEvent
	once   sync.Once
	err    error
}

// NewEventStream returns a stream with the given channel buffer.
func NewEventStream(buffer int) *EventStream {
	if buffer < 0 {
		buffer = 0
	}
	return &EventStream{events: make(chan StreamEvent, buffer)}
}

// Events returns the receive side of the stream. The channel is closed by
// Finish; after it closes, Err reports the terminal state.
func (s *EventStream) Events() <-chan StreamEvent {
	return s.events
}

// Send delivers an event to the consumer. It returns false if ctx was
// canceled before the consumer took the event; the producer should stop and
// call Finish with the context error.
func (s *EventStream) Send(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records the terminal result and closes the stream. Only the first
// call has any effect; repeated completion attempts from racing paths in an
// adapter are absorbed here. Cancellation is rewritten to a neutral
// ProviderError so downstream reporting never surfaces a raw context error.
func (s *EventStream) Finish(err error) {
	s.once.Do(func() {
		if errors.Is(err, context.Canceled) {
			err = &ProviderError{
				Reason:  ReasonCanceled,
				Message: "request canceled",
				Cause:   err,
			}
		}
		s.err = err
		close(s.events)
	})
}

// Err returns the terminal error, or nil for a successful stream. Valid only
// after Events is closed.
func (s *EventStream) Err() error {
	return s.err
}
