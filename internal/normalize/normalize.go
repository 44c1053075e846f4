// Package normalize turns raw notification frames into canonical events.
// Normalization is pure and total: malformed or unrecognized payloads become
// Rejected events that keep the raw frame, never errors.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/groblegark/hookrelay/internal/model"
)

// catalogPrefix identifies AudioHook entries in the operational event catalog
// (e.g. "AUDIOHOOK-0001").
const catalogPrefix = "AUDIOHOOK-"

// envelope is the outer notification frame shape.
type envelope struct {
	TopicName string          `json:"topicName"`
	Topic     string          `json:"topic"`
	Timestamp string          `json:"timestamp"`
	EventBody json.RawMessage `json:"eventBody"`
	Body      json.RawMessage `json:"body"`
}

// eventBody is the operational-event payload carried inside the envelope.
// Every field is optional; decoding is deliberately loose.
type eventBody struct {
	EventEntity struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"eventEntity"`
	EventID        string `json:"eventId"`
	ID             string `json:"id"`
	EntityID       string `json:"entityId"`
	EntityType     string `json:"entityType"`
	EntityName     string `json:"entityName"`
	ConversationID string `json:"conversationId"`
	IntegrationID  string `json:"integrationId"`
	Component      string `json:"component"`
	Severity       string `json:"severity"`
	Level          string `json:"level"`
	Version        string `json:"version"`
	Timestamp      string `json:"timestamp"`
}

// IsOperationalEnvelope reports whether the decoded payload carries the
// mandatory event-catalog discriminator. This is the single structural rule
// that decides Operational vs Rejected; swap it out to relay a different
// catalog.
func IsOperationalEnvelope(body *eventBody) bool {
	return strings.HasPrefix(strings.ToUpper(body.EventEntity.ID), catalogPrefix)
}

// ExtractFields maps the payload onto canonical fields. Absence of any field
// is fine; severity is normalized to upper case.
func ExtractFields(body *eventBody) model.Fields {
	severity := body.Severity
	if severity == "" {
		severity = body.Level
	}
	entityID := body.EntityID
	if entityID == "" {
		entityID = body.ConversationID
	}
	return model.Fields{
		ErrorCode:      body.EventEntity.ID,
		Severity:       strings.ToUpper(severity),
		EntityID:       entityID,
		EntityType:     body.EntityType,
		EntityName:     body.EntityName,
		Description:    body.EventEntity.Description,
		ConversationID: body.ConversationID,
		IntegrationID:  body.IntegrationID,
		Component:      body.Component,
		Version:        body.Version,
	}
}

// Normalizer builds canonical events. The zero value is not usable; call New.
type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize converts one raw frame into a canonical event. It never fails:
// anything that does not match the operational-event shape is classified
// Rejected with the raw frame preserved. Output is deterministic for a given
// (raw, topic) pair apart from ReceivedAt.
func (n *Normalizer) Normalize(raw []byte, topic string) model.CanonicalEvent {
	ev := model.CanonicalEvent{
		Topic:          topic,
		ReceivedAt:     n.now().UTC(),
		Classification: model.ClassRejected,
		Raw:            append(json.RawMessage(nil), raw...),
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		ev.ID = fallbackID(topic, raw)
		return ev
	}
	if ev.Topic == "" {
		if env.TopicName != "" {
			ev.Topic = env.TopicName
		} else {
			ev.Topic = env.Topic
		}
	}

	// The operational payload usually arrives under eventBody; some channels
	// use body, and heartbeats have neither.
	bodyRaw := env.EventBody
	if len(bodyRaw) == 0 {
		bodyRaw = env.Body
	}
	if len(bodyRaw) == 0 {
		bodyRaw = raw
	}

	var body eventBody
	if err := json.Unmarshal(bodyRaw, &body); err != nil {
		ev.ID = fallbackID(ev.Topic, raw)
		return ev
	}

	ev.Fields = ExtractFields(&body)
	if IsOperationalEnvelope(&body) {
		ev.Classification = model.ClassOperational
	}

	switch {
	case body.EventID != "":
		ev.ID = body.EventID
	case body.ID != "":
		ev.ID = body.ID
	default:
		ev.ID = fallbackID(ev.Topic, raw)
	}

	ts := body.Timestamp
	if ts == "" {
		ts = env.Timestamp
	}
	if ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.SourceTimestamp = parsed.UTC()
		}
	}

	return ev
}

// fallbackID derives a stable identifier for frames that carry none, so
// retries of the same frame stay idempotent downstream.
func fallbackID(topic string, raw []byte) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(raw)
	return "ev-" + hex.EncodeToString(h.Sum(nil))[:16]
}
