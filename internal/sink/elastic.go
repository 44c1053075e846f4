package sink

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/hookrelay/internal/model"
)

// Elastic ships batches to an Elasticsearch _bulk endpoint as NDJSON and maps
// the per-item bulk response onto outcomes.
type Elastic struct {
	url        string
	authHeader string
	index      string
	datastream bool
	httpClient *http.Client
	now        func() time.Time
}

// NewElastic creates the sink. rawAuth follows the collector convention:
// "user:pass" becomes Basic auth, values starting with "Bearer " or "ApiKey "
// pass through, any other non-empty value becomes a Bearer token.
func NewElastic(url, rawAuth, index string, datastream bool) *Elastic {
	return &Elastic{
		url:        strings.TrimRight(url, "/"),
		authHeader: ElasticAuthHeader(rawAuth),
		index:      index,
		datastream: datastream,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
}

// ElasticAuthHeader derives the Authorization header value from the raw
// configured credential. Empty input yields an empty header (no auth).
func ElasticAuthHeader(raw string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "apikey ") {
		return raw
	}
	if strings.Contains(raw, ":") {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}
	return "Bearer " + raw
}

// indexName returns the write target: the datastream name as-is, or the base
// index with a daily date suffix.
func (s *Elastic) indexName(t time.Time) string {
	if s.datastream {
		return s.index
	}
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

// document is the indexed shape: canonical fields for alerting plus the raw
// event for deep dives.
type document struct {
	Timestamp      time.Time            `json:"@timestamp"`
	Topic          string               `json:"topic"`
	EventID        string               `json:"event_id"`
	Classification model.Classification `json:"classification"`
	Op             model.Fields         `json:"op"`
	Event          json.RawMessage      `json:"event"`
}

func toDocument(ev model.CanonicalEvent) document {
	return document{
		Timestamp:      ev.ReceivedAt,
		Topic:          ev.Topic,
		EventID:        ev.ID,
		Classification: ev.Classification,
		Op:             ev.Fields,
		Event:          ev.Raw,
	}
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

// bulkResponse is the subset of the _bulk response the relay inspects.
type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Ship indexes the batch. Document ids reuse the canonical event id, so a
// retry of an already-accepted item overwrites it in place rather than
// duplicating it.
func (s *Elastic) Ship(ctx context.Context, items []model.CanonicalEvent) ([]ItemOutcome, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range items {
		var action bulkAction
		action.Index.Index = s.indexName(ev.ReceivedAt)
		action.Index.ID = ev.ID
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encoding bulk action: %w", err)
		}
		if err := enc.Encode(toDocument(ev)); err != nil {
			return nil, fmt.Errorf("encoding bulk document: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/_bulk", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return s.itemOutcomes(items, body)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &RetryableError{StatusCode: resp.StatusCode, Err: errors.New(truncate(string(body), 300))}
	default:
		// Permanent whole-request rejection: every item fails for good.
		outcomes := make([]ItemOutcome, len(items))
		reason := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
		for i := range outcomes {
			outcomes[i] = ItemOutcome{Status: StatusPermanent, Reason: reason}
		}
		return outcomes, nil
	}
}

// itemOutcomes maps the per-item bulk response onto the submitted items.
func (s *Elastic) itemOutcomes(items []model.CanonicalEvent, body []byte) ([]ItemOutcome, error) {
	var br bulkResponse
	if err := json.Unmarshal(body, &br); err != nil {
		// 200 with an unreadable body: assume success, matching the upstream
		// collector's behaviour, but surface nothing per-item.
		outcomes := make([]ItemOutcome, len(items))
		return outcomes, nil
	}

	outcomes := make([]ItemOutcome, len(items))
	for i := range outcomes {
		if i >= len(br.Items) {
			// Response shorter than the request: treat the tail as retryable.
			outcomes[i] = ItemOutcome{Status: StatusRetryable, Reason: "missing bulk response item"}
			continue
		}
		outcomes[i] = ItemOutcome{Status: StatusRetryable, Reason: "empty bulk response item"}
		// One action type per item ("index"), but iterate to be shape-agnostic.
		for _, result := range br.Items[i] {
			switch {
			case result.Status < 300:
				outcomes[i] = ItemOutcome{Status: StatusDelivered}
			case result.Status == http.StatusTooManyRequests || result.Status >= 500:
				outcomes[i] = ItemOutcome{Status: StatusRetryable, Reason: itemReason(result.Status, result.Error)}
			default:
				outcomes[i] = ItemOutcome{Status: StatusPermanent, Reason: itemReason(result.Status, result.Error)}
			}
		}
	}
	return outcomes, nil
}

func itemReason(status int, e *bulkItemError) string {
	if e == nil {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s: %s", status, e.Type, e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
