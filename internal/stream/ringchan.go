// Package stream buffers per-session event streams for slow readers.
package stream

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Ranging results are periodic snapshots, so a slow reader only
// loses results it would have superseded anyway.
//
//	rc := stream.NewRingChannel[beacon.RangingResult](8)
//	rc.Send(result)
//	for v := range rc.C() { ... }
type RingChannel[T any] struct {
	ch      chan T
	closed  atomic.Bool
	metrics Metrics
}

// NewRingChannel creates a RingChannel with the given capacity
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("stream: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Reads through C() are not counted as processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped. Send after Close is a no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	if rc.closed.Load() {
		atomic.AddInt64(&rc.metrics.Errors, 1)
		return false
	}
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
			// a reader emptied a slot in between; retry the send
		}
	}
}

// TryReceive attempts a non-blocking receive
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			atomic.AddInt64(&rc.metrics.Processed, 1)
		}
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel; it is safe to call more than once.
// Close must not race with Send.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// GetMetrics returns a snapshot of current metrics values
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&rc.metrics.Errors),
	}
}

// Metrics counts RingChannel traffic; all fields are updated atomically
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Errors      int64
}
