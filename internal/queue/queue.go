// Package queue is the bounded buffer between the connection manager's read
// loop and the shipper. It is the single backpressure point of the pipeline.
//
// Policy: Enqueue blocks up to a configured wait for space; if the queue is
// still full the oldest buffered event is evicted to make room and the drop
// counter is incremented once for the evicted event. The queue therefore
// sheds the oldest data during a sustained sink outage instead of stalling
// the inbound read loop indefinitely.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/groblegark/hookrelay/internal/metrics"
	"github.com/groblegark/hookrelay/internal/model"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// ErrFull is returned when an event could not be accepted even after evicting
// the oldest entry (racing producers). The event counts as dropped.
var ErrFull = errors.New("queue: full")

// Queue is a bounded FIFO of canonical events, safe for concurrent use.
type Queue struct {
	ch      chan model.CanonicalEvent
	done    chan struct{}
	closing sync.Once
	wait    time.Duration
	metrics *metrics.Register
}

// New creates a queue holding up to capacity events. wait bounds how long
// Enqueue blocks before evicting the oldest event.
func New(capacity int, wait time.Duration, m *metrics.Register) *Queue {
	return &Queue{
		ch:      make(chan model.CanonicalEvent, capacity),
		done:    make(chan struct{}),
		wait:    wait,
		metrics: m,
	}
}

// Enqueue adds an event, blocking up to the configured wait when the queue is
// full, then evicting the oldest event to make room. Every eviction increments
// the dropped counter exactly once.
func (q *Queue) Enqueue(ctx context.Context, ev model.CanonicalEvent) error {
	select {
	case q.ch <- ev:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// Still full: drop the oldest buffered event, then take its slot.
	select {
	case <-q.ch:
		q.metrics.QueueDropped()
	default:
	}
	select {
	case q.ch <- ev:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	default:
		// Another producer raced us into the freed slot; the new event is
		// the one shed.
		q.metrics.QueueDropped()
		return ErrFull
	}
}

// DrainUpTo returns up to maxItems events, waiting at most maxWait for the
// first one. An empty result means nothing arrived in time (time-triggered
// flush) or the queue is closed and fully drained.
func (q *Queue) DrainUpTo(ctx context.Context, maxItems int, maxWait time.Duration) []model.CanonicalEvent {
	if maxItems <= 0 {
		return nil
	}
	var items []model.CanonicalEvent

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case ev := <-q.ch:
		items = append(items, ev)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	case <-q.done:
		// Closed: collect whatever is still buffered below.
	}

	for len(items) < maxItems {
		select {
		case ev := <-q.ch:
			items = append(items, ev)
		default:
			q.metrics.SetQueueDepth(len(q.ch))
			return items
		}
	}
	q.metrics.SetQueueDepth(len(q.ch))
	return items
}

// Close stops accepting new events. Buffered events remain drainable.
func (q *Queue) Close() {
	q.closing.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len is the current number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }
