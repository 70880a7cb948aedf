// Package handoff provides the single-producer/single-consumer primitives that
// connect pipeline stages.
//
// Two flavours exist. Queue delivers every value in publish order up to its
// capacity. Slot keeps only the latest value, like a binary semaphore guarding
// a shared variable: a value that is not consumed before the next publish is
// overwritten.
//
// Publish never blocks. Receive blocks until a value arrives, the channel is
// closed, or the context is done.
package handoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Receive once a closed channel has been drained.
var ErrClosed = errors.New("handoff: channel closed")

// Sender is the producer side of a hand-off channel.
type Sender[T any] interface {
	// Publish hands v to the consumer. It returns false if a value was lost:
	// v itself for a full Queue, or the previous unconsumed value for a Slot.
	Publish(v T) bool
}

// Receiver is the consumer side of a hand-off channel.
type Receiver[T any] interface {
	Receive(ctx context.Context) (T, error)
}

// Channel is a hand-off channel owned by the pipeline wiring.
type Channel[T any] interface {
	Sender[T]
	Receiver[T]
	Close()
}

// Kind selects the hand-off flavour.
type Kind string

const (
	KindQueue Kind = "queue"
	KindSlot  Kind = "slot"
)

// ParseKind validates a kind read from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindQueue, KindSlot:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown hand-off kind %q (want %q or %q)", s, KindQueue, KindSlot)
}

// New creates a channel of the given kind. Capacity is ignored for slots.
func New[T any](kind Kind, capacity int) (Channel[T], error) {
	switch kind {
	case KindQueue:
		return NewQueue[T](capacity), nil
	case KindSlot:
		return NewSlot[T](), nil
	}
	return nil, fmt.Errorf("unknown hand-off kind %q", kind)
}

var (
	_ Channel[int] = (*Queue[int])(nil)
	_ Channel[int] = (*Slot[int])(nil)
)
