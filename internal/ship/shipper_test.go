package ship

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/hookrelay/internal/archive"
	"github.com/groblegark/hookrelay/internal/backoff"
	"github.com/groblegark/hookrelay/internal/metrics"
	"github.com/groblegark/hookrelay/internal/model"
	"github.com/groblegark/hookrelay/internal/queue"
	"github.com/groblegark/hookrelay/internal/sink"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// scriptedSink replays canned responses and records every request.
type scriptedSink struct {
	mu        sync.Mutex
	calls     [][]model.CanonicalEvent
	responses []func(items []model.CanonicalEvent) ([]sink.ItemOutcome, error)
}

func (s *scriptedSink) Ship(ctx context.Context, items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]model.CanonicalEvent(nil), items...))
	if len(s.responses) == 0 {
		outcomes := make([]sink.ItemOutcome, len(items))
		return outcomes, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp(items)
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingArchive struct {
	mu    sync.Mutex
	items []model.CanonicalEvent
}

func (a *recordingArchive) Archive(ctx context.Context, items []model.CanonicalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
	return nil
}

func allDelivered(items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
	return make([]sink.ItemOutcome, len(items)), nil
}

func event(id string) model.CanonicalEvent {
	return model.CanonicalEvent{ID: id, Topic: "t", Raw: []byte(`{}`)}
}

func runShipper(t *testing.T, s *scriptedSink, dl *recordingArchive, cfg Config, events ...model.CanonicalEvent) *metrics.Register {
	t.Helper()
	reg := metrics.New()
	q := queue.New(64, time.Millisecond, reg)
	ctx := context.Background()
	for _, ev := range events {
		if err := q.Enqueue(ctx, ev); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Close()

	var arch archive.DeadLetter
	if dl != nil {
		arch = dl
	}
	sh := New(q, s, arch, backoff.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond}, cfg, reg, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sh.Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shipper did not drain")
	}
	return reg
}

func TestShipper_RetriesOnlyFailedItems(t *testing.T) {
	s := &scriptedSink{responses: []func([]model.CanonicalEvent) ([]sink.ItemOutcome, error){
		func(items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
			return []sink.ItemOutcome{
				{Status: sink.StatusRetryable, Reason: "429"},
				{Status: sink.StatusDelivered},
				{Status: sink.StatusRetryable, Reason: "503"},
			}, nil
		},
		allDelivered,
	}}

	reg := runShipper(t, s, nil, Config{MaxDocs: 10, MaxInterval: 10 * time.Millisecond, Concurrency: 1, MaxRetries: 3},
		event("e0"), event("e1"), event("e2"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) != 2 {
		t.Fatalf("sink called %d times, want 2", len(s.calls))
	}
	second := s.calls[1]
	if len(second) != 2 || second[0].ID != "e0" || second[1].ID != "e2" {
		t.Errorf("retry resubmitted %v, want only e0,e2 in order", ids(second))
	}
	snap := reg.Snapshot()
	if snap.DocsIndexed != 3 {
		t.Errorf("docs indexed = %d, want 3", snap.DocsIndexed)
	}
	if snap.BatchRetries != 1 {
		t.Errorf("batch retries = %d, want 1", snap.BatchRetries)
	}
	if snap.BatchesShipped != 1 {
		t.Errorf("batches shipped = %d, want 1", snap.BatchesShipped)
	}
	if snap.DocsDropped != 0 {
		t.Errorf("docs dropped = %d, want 0", snap.DocsDropped)
	}
}

func TestShipper_PermanentRejectionNotRetried(t *testing.T) {
	s := &scriptedSink{responses: []func([]model.CanonicalEvent) ([]sink.ItemOutcome, error){
		func(items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
			return []sink.ItemOutcome{
				{Status: sink.StatusDelivered},
				{Status: sink.StatusPermanent, Reason: "mapper_parsing_exception"},
			}, nil
		},
	}}
	dl := &recordingArchive{}

	reg := runShipper(t, s, dl, Config{MaxDocs: 10, MaxInterval: 10 * time.Millisecond, Concurrency: 1, MaxRetries: 3},
		event("good"), event("bad"))

	if got := s.callCount(); got != 1 {
		t.Fatalf("sink called %d times, want 1 (no retry for permanent)", got)
	}
	snap := reg.Snapshot()
	if snap.DocsIndexed != 1 || snap.DocsDropped != 1 {
		t.Errorf("indexed/dropped = %d/%d, want 1/1", snap.DocsIndexed, snap.DocsDropped)
	}
	if snap.BatchesShipped != 1 {
		t.Errorf("batches shipped = %d, want 1", snap.BatchesShipped)
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.items) != 1 || dl.items[0].ID != "bad" {
		t.Errorf("archived %v, want [bad]", ids(dl.items))
	}
}

func TestShipper_RetryBudgetExhausted(t *testing.T) {
	s := &scriptedSink{responses: []func([]model.CanonicalEvent) ([]sink.ItemOutcome, error){
		func(items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
			return nil, &sink.RetryableError{StatusCode: 503, Err: errors.New("unavailable")}
		},
	}}
	dl := &recordingArchive{}

	reg := runShipper(t, s, dl, Config{MaxDocs: 10, MaxInterval: 10 * time.Millisecond, Concurrency: 1, MaxRetries: 2},
		event("e0"), event("e1"))

	if got := s.callCount(); got != 3 {
		t.Fatalf("sink called %d times, want 3 (initial + 2 retries)", got)
	}
	snap := reg.Snapshot()
	if snap.BatchesFailed != 1 {
		t.Errorf("batches failed = %d, want 1", snap.BatchesFailed)
	}
	if snap.DocsDropped != 2 {
		t.Errorf("docs dropped = %d, want 2", snap.DocsDropped)
	}
	if snap.BatchRetries != 2 {
		t.Errorf("batch retries = %d, want 2", snap.BatchRetries)
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.items) != 2 {
		t.Errorf("archived %d items, want 2", len(dl.items))
	}
}

func TestShipper_DrainsQueueOnClose(t *testing.T) {
	s := &scriptedSink{}
	reg := runShipper(t, s, nil, Config{MaxDocs: 2, MaxInterval: 10 * time.Millisecond, Concurrency: 2, MaxRetries: 1},
		event("a"), event("b"), event("c"), event("d"), event("e"))

	snap := reg.Snapshot()
	if snap.DocsIndexed != 5 {
		t.Errorf("docs indexed = %d, want 5", snap.DocsIndexed)
	}
	var total int
	s.mu.Lock()
	for _, call := range s.calls {
		if len(call) > 2 {
			t.Errorf("batch of %d docs exceeds MaxDocs 2", len(call))
		}
		total += len(call)
	}
	s.mu.Unlock()
	if total != 5 {
		t.Errorf("shipped %d docs total, want 5", total)
	}
}

func TestShipper_ShortResponseTailRetried(t *testing.T) {
	s := &scriptedSink{responses: []func([]model.CanonicalEvent) ([]sink.ItemOutcome, error){
		func(items []model.CanonicalEvent) ([]sink.ItemOutcome, error) {
			return []sink.ItemOutcome{{Status: sink.StatusDelivered}}, nil
		},
		allDelivered,
	}}
	reg := runShipper(t, s, nil, Config{MaxDocs: 10, MaxInterval: 10 * time.Millisecond, Concurrency: 1, MaxRetries: 2},
		event("x"), event("y"))

	// The unaccounted-for tail is retried, never assumed delivered.
	s.mu.Lock()
	calls := append([][]model.CanonicalEvent(nil), s.calls...)
	s.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("sink called %d times, want 2", len(calls))
	}
	if len(calls[1]) != 1 || calls[1][0].ID != "y" {
		t.Errorf("retry resubmitted %v, want only y", ids(calls[1]))
	}
	snap := reg.Snapshot()
	if snap.DocsIndexed != 2 {
		t.Errorf("docs indexed = %d, want 2", snap.DocsIndexed)
	}
	if snap.BatchRetries != 1 {
		t.Errorf("batch retries = %d, want 1", snap.BatchRetries)
	}
}

func TestSplitByBytes(t *testing.T) {
	// Each event is len(Raw)+256 bytes; three 300-byte events against an
	// 700-byte cap split 2+1.
	items := []model.CanonicalEvent{
		{ID: "a", Raw: make([]byte, 44)},
		{ID: "b", Raw: make([]byte, 44)},
		{ID: "c", Raw: make([]byte, 44)},
	}
	chunks := splitByBytes(items, 700)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 1 {
		t.Errorf("chunk sizes = %d/%d, want 2/1", len(chunks[0]), len(chunks[1]))
	}

	// Zero cap disables splitting.
	if got := splitByBytes(items, 0); len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("uncapped split = %v chunks", len(got))
	}

	// A single oversized event still ships.
	big := []model.CanonicalEvent{{ID: "huge", Raw: make([]byte, 4096)}}
	if got := splitByBytes(big, 700); len(got) != 1 || len(got[0]) != 1 {
		t.Errorf("oversized split = %v chunks", len(got))
	}
}

func ids(items []model.CanonicalEvent) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
