package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/hookrelay/internal/model"
)

// schemaSQL bootstraps the single events table; safe to run repeatedly.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS audiohook_events (
	event_id         TEXT PRIMARY KEY,
	topic            TEXT NOT NULL,
	classification   TEXT NOT NULL,
	received_at      TIMESTAMPTZ NOT NULL,
	source_timestamp TIMESTAMPTZ,
	fields           JSONB NOT NULL,
	raw              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audiohook_events_received_at_idx
	ON audiohook_events (received_at);
`

const insertSQL = `
INSERT INTO audiohook_events
	(event_id, topic, classification, received_at, source_timestamp, fields, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING`

// Postgres ships batches into a single events table. The event id is the
// primary key, so retrying an already-delivered item is a no-op rather than a
// duplicate (at-least-once upstream, idempotent here).
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and fails fast when the database is
// unreachable.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an existing handle, used in tests.
func NewPostgresDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema applies the embedded schema.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Postgres) Close() error { return s.db.Close() }

// Ship inserts each item individually so every item gets its own outcome.
// Duplicate keys count as delivered.
func (s *Postgres) Ship(ctx context.Context, items []model.CanonicalEvent) ([]ItemOutcome, error) {
	outcomes := make([]ItemOutcome, len(items))
	for i, ev := range items {
		fieldsJSON, err := json.Marshal(ev.Fields)
		if err != nil {
			outcomes[i] = ItemOutcome{Status: StatusPermanent, Reason: fmt.Sprintf("marshaling fields: %v", err)}
			continue
		}
		var sourceTS any
		if !ev.SourceTimestamp.IsZero() {
			sourceTS = ev.SourceTimestamp
		}
		_, err = s.db.ExecContext(ctx, insertSQL,
			ev.ID, ev.Topic, string(ev.Classification), ev.ReceivedAt, sourceTS, fieldsJSON, string(ev.Raw))
		if err != nil {
			outcomes[i] = classifyPGError(err)
			continue
		}
		outcomes[i] = ItemOutcome{Status: StatusDelivered}
	}
	return outcomes, nil
}

// classifyPGError maps driver errors onto outcomes: data and constraint
// violations are permanent, everything else (connection loss, shutdown,
// resource exhaustion) is worth retrying.
func classifyPGError(err error) ItemOutcome {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23": // data exception, integrity constraint violation
			return ItemOutcome{Status: StatusPermanent, Reason: pqErr.Message}
		}
		return ItemOutcome{Status: StatusRetryable, Reason: pqErr.Message}
	}
	return ItemOutcome{Status: StatusRetryable, Reason: err.Error()}
}
