// Package ship drains the event queue into the bulk sink: batches are sealed
// by size or by age, shipped concurrently, and retried per item so one bad
// document never blocks its neighbors.
package ship

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/hookrelay/internal/archive"
	"github.com/groblegark/hookrelay/internal/backoff"
	"github.com/groblegark/hookrelay/internal/idgen"
	"github.com/groblegark/hookrelay/internal/metrics"
	"github.com/groblegark/hookrelay/internal/model"
	"github.com/groblegark/hookrelay/internal/queue"
	"github.com/groblegark/hookrelay/internal/sink"
)

// Config tunes batch sealing and retry behavior.
type Config struct {
	// MaxDocs seals a batch once it holds this many events.
	MaxDocs int
	// MaxBytes splits a sealed batch whose approximate wire size exceeds this
	// value. Zero disables the byte limit.
	MaxBytes int
	// MaxInterval seals a partial batch after this long without filling.
	MaxInterval time.Duration
	// Concurrency is the number of batches in flight at once.
	Concurrency int
	// MaxRetries bounds retry rounds per batch; what still fails after the
	// budget is dropped (and archived when a dead letter store is wired).
	MaxRetries int
}

// Shipper moves events from the queue to the sink until the queue is closed
// and drained.
type Shipper struct {
	queue   *queue.Queue
	sink    sink.BulkSink
	archive archive.DeadLetter // nil disables dead lettering
	policy  backoff.Policy
	cfg     Config
	metrics *metrics.Register
	log     *slog.Logger
}

func New(q *queue.Queue, s sink.BulkSink, dl archive.DeadLetter, policy backoff.Policy, cfg Config, m *metrics.Register, log *slog.Logger) *Shipper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Shipper{
		queue:   q,
		sink:    s,
		archive: dl,
		policy:  policy,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
}

// Run ships batches until ctx is cancelled or the queue is closed and fully
// drained. In-flight batches are always waited for.
func (s *Shipper) Run(ctx context.Context) error {
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}
		items := s.queue.DrainUpTo(ctx, s.cfg.MaxDocs, s.cfg.MaxInterval)
		if len(items) == 0 {
			if s.queue.Closed() && s.queue.Len() == 0 {
				break
			}
			continue
		}

		for _, chunk := range splitByBytes(items, s.cfg.MaxBytes) {
			batch := &Batch{ID: batchID(), Items: chunk, CreatedAt: time.Now().UTC()}
			sem <- struct{}{}
			wg.Add(1)
			go func(b *Batch) {
				defer wg.Done()
				defer func() { <-sem }()
				s.shipBatch(ctx, b)
			}(batch)
		}
	}

	wg.Wait()
	return nil
}

// shipBatch drives one batch to resolution: delivered, permanently rejected,
// or dropped after the retry budget. Only the still-retryable subset is
// resubmitted each round, in its original relative order.
func (s *Shipper) shipBatch(ctx context.Context, b *Batch) {
	items := b.Items
	for attempt := 0; ; attempt++ {
		outcomes, err := s.sink.Ship(ctx, items)
		if err != nil {
			if attempt >= s.cfg.MaxRetries || ctx.Err() != nil {
				s.drop(ctx, b.ID, items, fmt.Sprintf("retry budget exhausted: %v", err))
				return
			}
			delay := s.policy.NextDelay(attempt)
			s.metrics.BatchRetried()
			s.log.Warn("bulk request failed, retrying",
				"batch", b.ID, "docs", len(items), "attempt", attempt+1, "delay", delay, "error", err)
			if !sleepCtx(ctx, delay) {
				s.drop(ctx, b.ID, items, "shutdown during retry")
				return
			}
			continue
		}

		var retry []model.CanonicalEvent
		var rejected []model.CanonicalEvent
		delivered := 0
		reason := ""
		for i, ev := range items {
			// A response with fewer outcomes than requests left the tail
			// unaccounted for; retry it rather than assume delivery.
			if i >= len(outcomes) {
				retry = append(retry, ev)
				continue
			}
			switch outcomes[i].Status {
			case sink.StatusDelivered:
				delivered++
			case sink.StatusPermanent:
				rejected = append(rejected, ev)
				if reason == "" {
					reason = outcomes[i].Reason
				}
			default:
				retry = append(retry, ev)
			}
		}

		s.metrics.DocsIndexed(delivered)
		if len(rejected) > 0 {
			s.metrics.DocsDropped(len(rejected))
			s.log.Warn("sink permanently rejected documents",
				"batch", b.ID, "docs", len(rejected), "reason", reason)
			s.deadLetter(ctx, b.ID, rejected)
		}
		if len(retry) == 0 {
			s.metrics.BatchShipped()
			return
		}
		if attempt >= s.cfg.MaxRetries || ctx.Err() != nil {
			s.drop(ctx, b.ID, retry, "retry budget exhausted")
			return
		}
		delay := s.policy.NextDelay(attempt)
		s.metrics.BatchRetried()
		s.log.Warn("retrying failed documents",
			"batch", b.ID, "docs", len(retry), "attempt", attempt+1, "delay", delay)
		if !sleepCtx(ctx, delay) {
			s.drop(ctx, b.ID, retry, "shutdown during retry")
			return
		}
		items = retry
	}
}

// drop gives up on items: counted, logged, and dead lettered.
func (s *Shipper) drop(ctx context.Context, batchID string, items []model.CanonicalEvent, reason string) {
	s.metrics.BatchFailed()
	s.metrics.DocsDropped(len(items))
	s.log.Error("dropping batch", "batch", batchID, "docs", len(items), "reason", reason)
	s.deadLetter(ctx, batchID, items)
}

// deadLetter archives items best effort. The archive is an audit trail, not a
// durable queue; its failure never changes pipeline outcomes.
func (s *Shipper) deadLetter(ctx context.Context, batchID string, items []model.CanonicalEvent) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Archive(ctx, items); err != nil {
		s.log.Warn("dead letter archive failed", "batch", batchID, "docs", len(items), "error", err)
	}
}

// splitByBytes cuts items into runs whose approximate size stays under
// maxBytes. An oversized single event still ships alone.
func splitByBytes(items []model.CanonicalEvent, maxBytes int) [][]model.CanonicalEvent {
	if maxBytes <= 0 {
		return [][]model.CanonicalEvent{items}
	}
	var chunks [][]model.CanonicalEvent
	start, size := 0, 0
	for i := range items {
		sz := items[i].SizeBytes()
		if i > start && size+sz > maxBytes {
			chunks = append(chunks, items[start:i])
			start, size = i, 0
		}
		size += sz
	}
	chunks = append(chunks, items[start:])
	return chunks
}

func batchID() string {
	id, err := idgen.GenerateWithPrefix("batch-")
	if err != nil {
		return fmt.Sprintf("batch-%d", time.Now().UnixNano())
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
