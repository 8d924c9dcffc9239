package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Recv after Close has been called.
var ErrStreamClosed = errors.New("stream closed")

// eventStream adapts a producer function into a Stream. The producer runs in
// its own goroutine and sends events on the channel; returning nil ends the
// stream with io.EOF, returning an error surfaces it from Recv. Close cancels
// the producer's context and guarantees no further events are delivered.
type eventStream struct {
	events chan Event
	errs   chan error
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   bool
	err    error
}

func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		err := produce(ctx, s.events)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		s.errs <- err
		close(s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, ErrStreamClosed
	}
	if s.done {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return Event{}, err
	}
	s.mu.Unlock()

	event, ok := <-s.events
	if !ok {
		err := <-s.errs
		s.mu.Lock()
		s.done = true
		s.err = err
		s.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return Event{}, err
	}
	return event, nil
}

// Close cancels the producer and drains any events still in flight so the
// producer's unselected channel sends cannot block. Safe to call more than
// once and safe with no request outstanding.
func (s *eventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	go func() {
		for range s.events {
		}
		select {
		case <-s.errs:
		default:
		}
	}()
	return nil
}
