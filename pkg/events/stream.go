package events

import (
	"context"
	"sync"
)

// Stream is the per-run progress event channel. Events are delivered to the
// single subscriber in emission order. The stream terminates with exactly one
// done event; emissions after termination are dropped.
//
// The channel is unbuffered: emitting blocks until the subscriber consumes,
// which makes the send a suspension point and naturally paces producers.
type Stream struct {
	ch chan ProgressEvent

	mu         sync.Mutex
	terminated bool
}

// NewStream creates an unbuffered per-run stream.
func NewStream() *Stream {
	return &Stream{ch: make(chan ProgressEvent)}
}

// Events returns the receive side consumed by the transport layer.
// The channel is closed after the terminal done event is delivered.
func (s *Stream) Events() <-chan ProgressEvent {
	return s.ch
}

// Emit delivers an event to the subscriber, blocking until it is consumed or
// ctx is cancelled. Events emitted after termination are silently dropped so
// late best-effort publishers cannot violate the terminal-event contract.
func (s *Stream) Emit(ctx context.Context, ev ProgressEvent) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
}

// Terminate delivers the terminal done event and closes the stream.
// Idempotent: only the first call emits; later calls are no-ops.
// The send is bounded by ctx so an abandoned subscriber cannot wedge the
// driver; the channel is closed either way.
func (s *Stream) Terminate(ctx context.Context, ev ProgressEvent) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
	close(s.ch)
}
