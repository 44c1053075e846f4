// Package sink defines the bulk delivery target of the relay and its
// Elasticsearch and Postgres implementations.
package sink

import (
	"context"
	"fmt"

	"github.com/groblegark/hookrelay/internal/model"
)

// Status is the per-item delivery outcome.
type Status int

const (
	// StatusDelivered means the sink accepted the item; it must not be sent
	// again.
	StatusDelivered Status = iota
	// StatusRetryable means the item failed in a way worth retrying (429,
	// 5xx, queue rejection on the sink side).
	StatusRetryable
	// StatusPermanent means the sink definitively rejected the item;
	// retrying will not help.
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRetryable:
		return "retryable"
	case StatusPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ItemOutcome reports one item's fate, aligned positionally with the shipped
// batch.
type ItemOutcome struct {
	Status Status
	Reason string
}

// BulkSink delivers a batch and reports per-item outcomes. A non-nil error
// means the whole request failed retryably (transport error, 429, 5xx) and no
// per-item information is available; permanent whole-request rejections are
// reported as outcomes with StatusPermanent instead. Outcomes align
// positionally with items and must cover all of them; callers treat any
// uncovered tail as retryable. Sinks must tolerate retries of previously
// delivered items (at-least-once upstream).
type BulkSink interface {
	Ship(ctx context.Context, items []model.CanonicalEvent) ([]ItemOutcome, error)
}

// RetryableError is a whole-request failure worth retrying with backoff.
type RetryableError struct {
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sink: retryable HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sink: retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }
