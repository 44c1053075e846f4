// Package relay wires the pipeline together: streaming session in, normalized
// events through the queue, batches out to the sink.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/groblegark/hookrelay/internal/metrics"
	"github.com/groblegark/hookrelay/internal/model"
	"github.com/groblegark/hookrelay/internal/normalize"
	"github.com/groblegark/hookrelay/internal/queue"
	"github.com/groblegark/hookrelay/internal/ship"
	"github.com/groblegark/hookrelay/internal/stream"
)

// Relay runs the whole pipeline. The stream manager and the shipper live on
// separate contexts so shutdown can stop intake first and still flush what is
// buffered.
type Relay struct {
	manager    *stream.Manager
	queue      *queue.Queue
	shipper    *ship.Shipper
	normalizer *normalize.Normalizer
	metrics    *metrics.Register
	log        *slog.Logger

	shutdownTimeout time.Duration
}

func New(m *stream.Manager, q *queue.Queue, sh *ship.Shipper, reg *metrics.Register, shutdownTimeout time.Duration, log *slog.Logger) *Relay {
	return &Relay{
		manager:         m,
		queue:           q,
		shipper:         sh,
		normalizer:      normalize.New(),
		metrics:         reg,
		log:             log,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run blocks until ctx is cancelled, then drains the queue before returning.
func (r *Relay) Run(ctx context.Context) error {
	shipCtx, stopShip := context.WithCancel(context.Background())
	defer stopShip()

	shipDone := make(chan error, 1)
	go func() {
		shipDone <- r.shipper.Run(shipCtx)
	}()

	err := r.manager.Run(ctx, r.handleFrame)

	// Intake has stopped; close the queue so the shipper drains what is left
	// and exits, bounded by the shutdown timeout.
	r.queue.Close()
	select {
	case shipErr := <-shipDone:
		err = errors.Join(err, shipErr)
	case <-time.After(r.shutdownTimeout):
		r.log.Warn("shutdown timeout reached, abandoning queued events", "queued", r.queue.Len())
		stopShip()
		<-shipDone
	}

	snap := r.metrics.Snapshot()
	r.log.Info("relay stopped",
		"events_received", snap.EventsReceived,
		"events_operational", snap.EventsOperational,
		"events_rejected", snap.EventsRejected,
		"docs_indexed", snap.DocsIndexed,
		"docs_dropped", snap.DocsDropped,
		"queue_dropped", snap.QueueDropped,
		"reconnects", snap.Reconnects)
	return err
}

// handleFrame turns one raw frame into a canonical event and buffers it. It
// never blocks the read loop past the queue's bounded wait.
func (r *Relay) handleFrame(ctx context.Context, raw []byte) {
	r.metrics.EventReceived()
	ev := r.normalizer.Normalize(raw, "")
	switch ev.Classification {
	case model.ClassOperational:
		r.metrics.EventOperational()
	default:
		r.metrics.EventRejected()
	}
	if err := r.queue.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
			return
		}
		r.log.Warn("enqueue failed", "event", ev.ID, "error", err)
	}
}
