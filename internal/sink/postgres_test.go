package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/groblegark/hookrelay/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation
// checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func pgEvent(id string) model.CanonicalEvent {
	return model.CanonicalEvent{
		ID:             id,
		Topic:          "platform.integration.audiohook",
		ReceivedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Classification: model.ClassOperational,
		Fields:         model.Fields{ErrorCode: "AUDIOHOOK-0001", Severity: "ERROR"},
		Raw:            json.RawMessage(`{"eventBody":{}}`),
	}
}

func TestPostgresShipDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresDB(db)

	mock.ExpectExec("INSERT INTO audiohook_events").
		WithArgs("e1", "platform.integration.audiohook", "operational",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcomes, err := s.Ship(context.Background(), []model.CanonicalEvent{pgEvent("e1")})
	if err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if outcomes[0].Status != StatusDelivered {
		t.Errorf("outcome = %v, want delivered", outcomes[0])
	}
}

func TestPostgresShipDuplicateIsDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresDB(db)

	// ON CONFLICT DO NOTHING: zero rows affected, no error.
	mock.ExpectExec("INSERT INTO audiohook_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	outcomes, err := s.Ship(context.Background(), []model.CanonicalEvent{pgEvent("e1")})
	if err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if outcomes[0].Status != StatusDelivered {
		t.Errorf("duplicate insert outcome = %v, want delivered (idempotent)", outcomes[0])
	}
}

func TestPostgresShipMixedOutcomes(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresDB(db)

	mock.ExpectExec("INSERT INTO audiohook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audiohook_events").
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax"})
	mock.ExpectExec("INSERT INTO audiohook_events").
		WillReturnError(errors.New("connection reset"))

	outcomes, err := s.Ship(context.Background(),
		[]model.CanonicalEvent{pgEvent("e0"), pgEvent("e1"), pgEvent("e2")})
	if err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if outcomes[0].Status != StatusDelivered {
		t.Errorf("outcomes[0] = %v, want delivered", outcomes[0])
	}
	if outcomes[1].Status != StatusPermanent {
		t.Errorf("outcomes[1] = %v, want permanent (data exception)", outcomes[1])
	}
	if outcomes[2].Status != StatusRetryable {
		t.Errorf("outcomes[2] = %v, want retryable (connection error)", outcomes[2])
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresDB(db)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audiohook_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
}
