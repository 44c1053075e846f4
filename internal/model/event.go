package model

import (
	"encoding/json"
	"time"
)

// Classification is the outcome of normalizing a raw notification frame.
type Classification string

const (
	// ClassOperational marks events that matched the AudioHook operational
	// event-catalog shape.
	ClassOperational Classification = "operational"
	// ClassRejected marks frames that could not be matched to the catalog.
	// Rejected events still carry the raw payload so operators can inspect
	// misses; they are never silently dropped.
	ClassRejected Classification = "rejected"
)

// Fields holds the canonical fields extracted from an operational event.
// Every field is optional; extraction is defensive and absence is not an error.
type Fields struct {
	ErrorCode      string `json:"errorCode,omitempty"`
	Severity       string `json:"severity,omitempty"`
	EntityID       string `json:"entityId,omitempty"`
	EntityType     string `json:"entityType,omitempty"`
	EntityName     string `json:"entityName,omitempty"`
	Description    string `json:"description,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IntegrationID  string `json:"integrationId,omitempty"`
	Component      string `json:"component,omitempty"`
	Version        string `json:"version,omitempty"`
}

// CanonicalEvent is the normalized unit of work flowing through the relay.
// It is immutable once constructed; Raw always preserves the original frame
// verbatim, even when field extraction partially failed.
type CanonicalEvent struct {
	ID              string          `json:"id"`
	Topic           string          `json:"topic"`
	ReceivedAt      time.Time       `json:"received_at"`
	SourceTimestamp time.Time       `json:"source_timestamp,omitempty"`
	Classification  Classification  `json:"classification"`
	Fields          Fields          `json:"fields"`
	Raw             json.RawMessage `json:"raw"`
}

// SizeBytes approximates the serialized size of the event, used for
// size-triggered batch flushes.
func (e CanonicalEvent) SizeBytes() int {
	return len(e.Raw) + 256
}
