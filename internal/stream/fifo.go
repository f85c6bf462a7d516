package stream

import (
	"sync"

	list "github.com/bahlo/generic-list-go"
)

// FIFO is an unbounded queue that never drops.
//
// Push never blocks, so a producer holding a lock is never held up by the
// reader. The reader waits on Ready and takes everything queued with Drain.
//
//	q := stream.NewFIFO[beacon.MonitoringEvent]()
//	q.Push(e)
//	<-q.Ready()
//	for _, e := range q.Drain() { ... }
type FIFO[T any] struct {
	mu     sync.Mutex
	items  *list.List[T]
	ready  chan struct{}
	closed bool
}

func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{
		items: list.New[T](),
		ready: make(chan struct{}, 1),
	}
}

// Push appends v and signals Ready. It reports false after Close.
func (q *FIFO[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items.PushBack(v)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready fires at least once after each Push that found the signal unset
func (q *FIFO[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns all queued elements in push order
func (q *FIFO[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	out := make([]T, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	q.items.Init()
	return out
}

// Len returns the number of queued elements
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close discards queued elements and rejects further pushes; it is safe to
// call more than once.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items.Init()
}
