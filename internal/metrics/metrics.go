// Package metrics holds the process-wide relay counters. A single Register is
// created at startup and an explicit handle is passed to every component that
// reports; there are no package-level globals.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Register accumulates pipeline counters. All methods are safe for concurrent
// use; Snapshot never blocks the pipeline.
type Register struct {
	startedAt time.Time

	eventsReceived    atomic.Int64
	eventsOperational atomic.Int64
	eventsRejected    atomic.Int64
	queueDropped      atomic.Int64
	queueDepth        atomic.Int64
	batchesShipped    atomic.Int64
	batchRetries      atomic.Int64
	batchesFailed     atomic.Int64
	docsIndexed       atomic.Int64
	docsDropped       atomic.Int64
	reconnects        atomic.Int64

	mu        sync.Mutex
	connState string
	attempt   int
	lastError string
}

// New returns an empty Register with the start time set to now.
func New() *Register {
	return &Register{startedAt: time.Now().UTC(), connState: "connecting"}
}

func (r *Register) EventReceived()     { r.eventsReceived.Add(1) }
func (r *Register) EventOperational() { r.eventsOperational.Add(1) }
func (r *Register) EventRejected()    { r.eventsRejected.Add(1) }
func (r *Register) QueueDropped()     { r.queueDropped.Add(1) }
func (r *Register) BatchShipped()     { r.batchesShipped.Add(1) }
func (r *Register) BatchRetried()     { r.batchRetries.Add(1) }
func (r *Register) BatchFailed()      { r.batchesFailed.Add(1) }
func (r *Register) Reconnect()        { r.reconnects.Add(1) }

func (r *Register) DocsIndexed(n int) { r.docsIndexed.Add(int64(n)) }
func (r *Register) DocsDropped(n int) { r.docsDropped.Add(int64(n)) }

// SetQueueDepth records the current number of buffered events.
func (r *Register) SetQueueDepth(n int) { r.queueDepth.Store(int64(n)) }

// SetConnState records the connection manager's current state and attempt
// counter so sustained outages are observable from the stats surface.
func (r *Register) SetConnState(state string, attempt int) {
	r.mu.Lock()
	r.connState = state
	r.attempt = attempt
	r.mu.Unlock()
}

// SetLastError records the most recent connection failure reason. Pass an
// empty string to clear it on recovery.
func (r *Register) SetLastError(reason string) {
	r.mu.Lock()
	r.lastError = reason
	r.mu.Unlock()
}

// Snapshot is a plain, serializable view of the Register at one instant.
type Snapshot struct {
	StartedAt         time.Time `json:"started_at"`
	ConnState         string    `json:"connection_state"`
	ConnAttempt       int       `json:"connection_attempt"`
	LastError         string    `json:"last_error,omitempty"`
	Reconnects        int64     `json:"reconnects"`
	EventsReceived    int64     `json:"events_received"`
	EventsOperational int64     `json:"events_operational"`
	EventsRejected    int64     `json:"events_rejected"`
	QueueDepth        int64     `json:"queue_depth"`
	QueueDropped      int64     `json:"queue_dropped"`
	BatchesShipped    int64     `json:"batches_shipped"`
	BatchRetries      int64     `json:"batch_retries"`
	BatchesFailed     int64     `json:"batches_failed"`
	DocsIndexed       int64     `json:"docs_indexed"`
	DocsDropped       int64     `json:"docs_dropped"`
}

// Snapshot returns a consistent-enough copy of all counters for the
// health/stats surface.
func (r *Register) Snapshot() Snapshot {
	r.mu.Lock()
	state, attempt, lastErr := r.connState, r.attempt, r.lastError
	r.mu.Unlock()

	return Snapshot{
		StartedAt:         r.startedAt,
		ConnState:         state,
		ConnAttempt:       attempt,
		LastError:         lastErr,
		Reconnects:        r.reconnects.Load(),
		EventsReceived:    r.eventsReceived.Load(),
		EventsOperational: r.eventsOperational.Load(),
		EventsRejected:    r.eventsRejected.Load(),
		QueueDepth:        r.queueDepth.Load(),
		QueueDropped:      r.queueDropped.Load(),
		BatchesShipped:    r.batchesShipped.Load(),
		BatchRetries:      r.batchRetries.Load(),
		BatchesFailed:     r.batchesFailed.Load(),
		DocsIndexed:       r.docsIndexed.Load(),
		DocsDropped:       r.docsDropped.Load(),
	}
}
