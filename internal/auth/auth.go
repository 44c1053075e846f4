// Package auth supplies bearer credentials for the Genesys Cloud control
// plane. The connection manager treats credential failure exactly like a
// handshake failure: back off and retry, which implicitly retries auth.
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider supplies a ready-to-use Authorization header value.
type Provider interface {
	AuthHeader(ctx context.Context) (string, error)
}

// Error wraps a credential acquisition or validation failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ClientCredentials implements Provider with the OAuth2 client-credentials
// grant against login.<region>/oauth/token. Tokens are cached and refreshed
// by the underlying token source until near expiry.
type ClientCredentials struct {
	cfg *clientcredentials.Config

	once sync.Once
	src  oauth2.TokenSource
}

// NewClientCredentials builds a provider for the given Genesys Cloud region
// (e.g. "usw2.pure.cloud").
func NewClientCredentials(region, clientID, clientSecret string) *ClientCredentials {
	return NewClientCredentialsURL(fmt.Sprintf("https://login.%s/oauth/token", region), clientID, clientSecret)
}

// NewClientCredentialsURL is NewClientCredentials with an explicit token URL.
func NewClientCredentialsURL(tokenURL, clientID, clientSecret string) *ClientCredentials {
	return &ClientCredentials{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

// AuthHeader returns "Bearer <token>", fetching or refreshing the token as
// needed.
func (p *ClientCredentials) AuthHeader(ctx context.Context) (string, error) {
	// The token source is created once so its cached token survives across
	// calls; refresh happens inside Token when the token nears expiry.
	p.once.Do(func() {
		p.src = p.cfg.TokenSource(context.Background())
	})
	tok, err := p.src.Token()
	if err != nil {
		return "", &Error{Err: err}
	}
	return "Bearer " + tok.AccessToken, nil
}

// Static is a fixed header value, used in tests and with the NATS transport
// where no upstream credential exists.
type Static string

func (s Static) AuthHeader(context.Context) (string, error) { return string(s), nil }
