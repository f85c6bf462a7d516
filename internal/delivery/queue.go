// Package delivery buffers background monitoring events until the background
// channel is up, then hands them over in arrival order.
//
// The Queue is an actor: a single goroutine owns the state and buffer, and
// every public method waits for the actor to apply it. Channel bring-up runs
// on its own goroutine so a Channel may report readiness from inside Open.
package delivery

import (
	"context"
	"sync"

	list "github.com/bahlo/generic-list-go"
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/groutine"
)

// Channel is the background delivery target
type Channel interface {
	// Open starts bringing the channel up. Readiness is reported separately
	// through Queue.MarkReady; an error means bring-up failed.
	Open(ctx context.Context) error
	Deliver(e beacon.MonitoringEvent) error
	Close() error
}

// Queue delivers monitoring events to a Channel that may not be up yet
type Queue struct {
	channel Channel
	logger  *logrus.Logger

	mailbox  chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     <-chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// owned by the actor goroutine
	state      State
	pending    *list.List[beacon.MonitoringEvent]
	retain     bool
	epoch      uint64
	cancelOpen context.CancelFunc
}

// NewQueue creates a queue in NotReady and starts its actor goroutine
func NewQueue(channel Channel, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		channel: channel,
		logger:  logger,
		mailbox: make(chan func()),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateNotReady,
		pending: list.New[beacon.MonitoringEvent](),
	}
	q.done = groutine.Start(ctx, "delivery-queue", q.run)
	return q
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case fn := <-q.mailbox:
			fn()
		case <-q.quit:
			q.reset()
			return
		}
	}
}

// do runs fn on the actor and waits for it to finish.
// It returns false if the queue was shut down.
func (q *Queue) do(fn func()) bool {
	applied := make(chan struct{})
	select {
	case q.mailbox <- func() { fn(); close(applied) }:
	case <-q.done:
		return false
	}
	<-applied
	return true
}

// Push hands an event to the channel, buffering it while the channel is not ready
func (q *Queue) Push(e beacon.MonitoringEvent) {
	q.do(func() {
		switch q.state {
		case StateReady:
			q.deliver(e)
		case StateInitializing:
			q.pending.PushBack(e)
		case StateNotReady:
			q.pending.PushBack(e)
			q.open()
		}
	})
}

// MarkReady reports that the channel finished bring-up. Buffered events are
// flushed in arrival order; without retain the channel is then closed.
func (q *Queue) MarkReady() {
	q.do(func() {
		if q.state != StateInitializing {
			q.logger.WithField("state", q.state).Debug("Ignoring background ready signal")
			return
		}
		q.transition(StateReady)

		flushed := q.pending.Len()
		for el := q.pending.Front(); el != nil; el = el.Next() {
			q.deliver(el.Value)
		}
		q.pending.Init()

		q.logger.WithFields(logrus.Fields{
			"flushed": flushed,
			"retain":  q.retain,
		}).Debug("Background channel ready")

		if !q.retain {
			q.teardown()
		}
	})
}

// Stop discards buffered events, closes the channel and returns to NotReady
func (q *Queue) Stop() {
	q.do(func() {
		if dropped := q.pending.Len(); dropped > 0 {
			q.logger.WithField("dropped", dropped).Debug("Discarding buffered background events")
		}
		q.reset()
	})
}

// SetRetain controls whether a ready channel stays open after the flush.
// Turning retain off while ready closes the channel.
func (q *Queue) SetRetain(retain bool) {
	q.do(func() {
		q.retain = retain
		if !retain && q.state == StateReady {
			q.teardown()
		}
	})
}

// State returns the current channel state
func (q *Queue) State() State {
	var s State
	q.do(func() { s = q.state })
	return s
}

// Len returns the number of buffered events
func (q *Queue) Len() int {
	var n int
	q.do(func() { n = q.pending.Len() })
	return n
}

// OnMonitoring lets the queue subscribe to the monitor directly
func (q *Queue) OnMonitoring(e beacon.MonitoringEvent) {
	q.Push(e)
}

// OnRanging is a no-op; ranging never goes to the background channel
func (q *Queue) OnRanging(beacon.RangingResult) {}

// Close stops the actor. Buffered events are discarded.
func (q *Queue) Close() {
	q.quitOnce.Do(func() { close(q.quit) })
	<-q.done
	q.cancel()
}

func (q *Queue) open() {
	q.transition(StateInitializing)
	q.epoch++
	epoch := q.epoch

	ctx, cancel := context.WithCancel(q.ctx)
	q.cancelOpen = cancel

	groutine.Go(ctx, "delivery-open", func(ctx context.Context) {
		err := q.channel.Open(ctx)
		if err == nil {
			return
		}
		q.post(func() {
			if epoch != q.epoch || q.state != StateInitializing {
				return
			}
			q.logger.WithError(err).WithField("buffered", q.pending.Len()).Warn("Failed to open background channel")
			q.cancelOpen = nil
			cancel()
			q.transition(StateNotReady)
		})
	})
}

// post queues fn on the actor without waiting for it
func (q *Queue) post(fn func()) {
	select {
	case q.mailbox <- fn:
	case <-q.done:
	}
}

func (q *Queue) deliver(e beacon.MonitoringEvent) {
	if err := q.channel.Deliver(e); err != nil {
		q.logger.WithError(err).WithField("event", e.String()).Warn("Dropping background event")
	}
}

func (q *Queue) teardown() {
	if q.cancelOpen != nil {
		q.cancelOpen()
		q.cancelOpen = nil
	}
	if err := q.channel.Close(); err != nil {
		q.logger.WithError(err).Debug("Failed to close background channel")
	}
	q.transition(StateNotReady)
}

func (q *Queue) reset() {
	q.pending.Init()
	q.epoch++
	if q.state != StateNotReady {
		q.teardown()
	}
}

func (q *Queue) transition(next State) {
	if !q.state.CanTransitionTo(next) {
		q.logger.WithFields(logrus.Fields{
			"from": q.state,
			"to":   next,
		}).Error("Invalid delivery state transition")
		return
	}
	q.state = next
}
