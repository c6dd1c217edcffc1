// Package relay provides the bounded hand-off buffer between the stream pump
// goroutine and the ingest loop.
package relay

import (
	"context"
	"fmt"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Relay is a fixed-capacity FIFO safe for one producer and one consumer
// running on different goroutines. Push blocks while the relay is full;
// TryPop never blocks.
type Relay[T any] struct {
	ch chan T
}

// New constructs a relay holding at most capacity items.
func New[T any](capacity int) *Relay[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Relay[T]{ch: make(chan T, capacity)}
}

// Push inserts item, blocking until space is available.
func (r *Relay[T]) Push(item T) {
	r.ch <- item
}

// PushContext inserts item or returns once ctx ends.
func (r *Relay[T]) PushContext(ctx context.Context, item T) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("relay push canceled: %w", ctx.Err())
	case r.ch <- item:
		return nil
	}
}

// TryPop returns the oldest item if one is buffered. The boolean is false
// when the relay is empty; the call never waits.
func (r *Relay[T]) TryPop() (T, bool) {
	select {
	case item := <-r.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len reports the number of buffered items.
func (r *Relay[T]) Len() int {
	return len(r.ch)
}

// Cap reports the configured capacity.
func (r *Relay[T]) Cap() int {
	return cap(r.ch)
}
