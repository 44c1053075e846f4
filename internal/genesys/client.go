// Package genesys is the REST client for the Genesys Cloud notifications
// control plane: channel creation, topic subscriptions and topic discovery.
package genesys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/hookrelay/internal/auth"
)

// Client targets https://api.<region> and attaches a bearer credential from
// the auth provider to every request.
type Client struct {
	baseURL    string
	auth       auth.Provider
	httpClient *http.Client
}

// NewClient creates a client for the given region (e.g. "usw2.pure.cloud").
func NewClient(region string, p auth.Provider) *Client {
	return NewClientURL("https://api."+region, p)
}

// NewClientURL is NewClient with an explicit base URL, used in tests.
func NewClientURL(baseURL string, p auth.Provider) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       p,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError represents an error response from the Genesys Cloud API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genesys: HTTP %d: %s", e.StatusCode, e.Message)
}

// Channel is a freshly minted notifications channel. The websocket connect
// URI embeds the channel credential; channels expire server-side and must be
// recreated on every reconnect.
type Channel struct {
	ID         string    `json:"id"`
	ConnectURI string    `json:"connectUri"`
	Expires    time.Time `json:"expires,omitzero"`
}

// CreateChannel mints a new notifications channel for the authenticated
// client.
func (c *Client) CreateChannel(ctx context.Context) (*Channel, error) {
	var ch Channel
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/notifications/channels", struct{}{}, &ch); err != nil {
		return nil, err
	}
	if ch.ID == "" || ch.ConnectURI == "" {
		return nil, fmt.Errorf("genesys: channel response missing id or connectUri")
	}
	return &ch, nil
}

// PutSubscriptions replaces the channel's subscription set with the given
// topics. The API acknowledges the whole set synchronously; a non-2xx status
// means no topic was acknowledged.
func (c *Client) PutSubscriptions(ctx context.Context, channelID string, topics []string) error {
	type topicRef struct {
		ID string `json:"id"`
	}
	body := struct {
		Topics []topicRef `json:"topics"`
	}{}
	for _, t := range topics {
		body.Topics = append(body.Topics, topicRef{ID: t})
	}
	path := "/api/v2/notifications/channels/" + channelID + "/subscriptions"
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

// AvailableTopics lists the topic ids the authenticated client may subscribe
// to.
func (c *Client) AvailableTopics(ctx context.Context) ([]string, error) {
	var resp struct {
		Entities []struct {
			ID string `json:"id"`
		} `json:"entities"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/notifications/availabletopics", nil, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// doJSON performs an authenticated request with optional JSON body and decodes
// the JSON response. If result is nil the response body is discarded.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	header, err := c.auth.AuthHeader(ctx)
	if err != nil {
		return err // already an *auth.Error
	}
	req.Header.Set("Authorization", header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
