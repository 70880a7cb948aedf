package handoff

import (
	"context"
	"sync"
)

// Slot is a single-value cell with last-value semantics.
type Slot[T any] struct {
	mu     sync.Mutex
	val    T
	full   bool
	closed bool

	ready chan struct{}
	done  chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Publish stores v, replacing any value the consumer has not taken yet.
// It returns false when such a value was overwritten or the slot is closed.
func (s *Slot[T]) Publish(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	lost := s.full
	s.val = v
	s.full = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}

	return !lost
}

// Receive takes the pending value, waiting for one if necessary. A pending
// value is still delivered after Close.
func (s *Slot[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.full {
			v := s.val
			s.val = zero
			s.full = false
			s.mu.Unlock()
			return v, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		s.mu.Unlock()

		// A stale wakeup just loops back to the check above.
		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close wakes the consumer. It is safe to call more than once.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Pending reports whether a value is waiting to be consumed.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}
