// Package hub implements a per-topic fan-out buffer.
//
// A Hub keeps the last N published values in a fixed ring. Every Subscription
// owns an independent read cursor into that ring, so a slow subscriber never
// holds back the publisher or other subscribers. When the publisher laps a
// subscriber, the subscriber's next read reports a *LagError and its cursor
// jumps to the oldest value still buffered.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the hub has been closed and
// every buffered value has been consumed, or after the subscription itself was
// closed.
var ErrClosed = errors.New("hub closed")

// LagError reports that a subscriber fell behind and Skipped values were
// overwritten before it could read them. It is a signal, not a failure: the
// subscription stays usable.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged by %d events", e.Skipped)
}

// IsLag reports whether err is a lag signal.
func IsLag(err error) bool {
	var lag *LagError
	return errors.As(err, &lag)
}

// Hub is a multi-producer, multi-consumer broadcast ring for values of type T.
type Hub[T any] struct {
	mu          sync.Mutex
	ring        []T
	head        uint64 // sequence number of the next value to publish
	subscribers int
	closed      bool
	// wake is closed and replaced on every publish so that waiting readers
	// can select on it together with their context.
	wake chan struct{}
}

// New creates a hub that retains the last capacity values. Capacity below one
// is raised to one.
func New[T any](capacity int) *Hub[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub[T]{
		ring: make([]T, capacity),
		wake: make(chan struct{}),
	}
}

// Capacity returns the number of values the ring retains.
func (h *Hub[T]) Capacity() int {
	return len(h.ring)
}

// Publish stores v and wakes all waiting subscribers. It never blocks on
// subscribers and returns the number of subscribers at the time of publishing.
// Publishing to a closed hub discards v.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}
	h.ring[h.head%uint64(len(h.ring))] = v
	h.head++

	close(h.wake)
	h.wake = make(chan struct{})

	return h.subscribers
}

// Subscribe registers a new subscription that observes values published from
// now on. On a closed hub the subscription is returned already closed and is
// not counted.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return &Subscription[T]{hub: h, next: h.head, closed: true}
	}
	h.subscribers++
	return &Subscription[T]{
		hub:  h,
		next: h.head,
	}
}

// SubscriberCount returns the number of open subscriptions.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers
}

// Close tears the hub down. Subscribers drain what is still buffered and then
// receive ErrClosed. Close is idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.wake)
}

// oldest returns the sequence number of the oldest retained value.
// Must be called with h.mu held.
func (h *Hub[T]) oldest() uint64 {
	size := uint64(len(h.ring))
	if h.head < size {
		return 0
	}
	return h.head - size
}

// Subscription is a read cursor into a Hub. A Subscription must not be read
// from more than one goroutine at a time.
type Subscription[T any] struct {
	hub    *Hub[T]
	next   uint64
	closed bool
}

// Next returns the next value in publish order. It suspends until a value is
// published, ctx is done, or the hub closes.
//
// When values were overwritten before they could be read, Next returns a
// *LagError and moves the cursor to the oldest retained value; the following
// call resumes from there.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	h := s.hub

	for {
		h.mu.Lock()
		if s.closed {
			h.mu.Unlock()
			return zero, ErrClosed
		}
		if oldest := h.oldest(); s.next < oldest {
			skipped := oldest - s.next
			s.next = oldest
			h.mu.Unlock()
			return zero, &LagError{Skipped: skipped}
		}
		if s.next < h.head {
			v := h.ring[s.next%uint64(len(h.ring))]
			s.next++
			h.mu.Unlock()
			return v, nil
		}
		if h.closed {
			h.mu.Unlock()
			return zero, ErrClosed
		}
		wake := h.wake
		h.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close releases the subscription and decrements the hub's subscriber count.
// It is safe to call more than once.
func (s *Subscription[T]) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	h.subscribers--
}
