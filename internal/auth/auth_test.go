package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCredentials_AuthHeader(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing token request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	p := NewClientCredentialsURL(srv.URL, "client", "secret")

	header, err := p.AuthHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthHeader() error: %v", err)
	}
	if header != "Bearer tok-123" {
		t.Errorf("AuthHeader() = %q, want %q", header, "Bearer tok-123")
	}

	// Second call must reuse the cached token.
	if _, err := p.AuthHeader(context.Background()); err != nil {
		t.Fatalf("AuthHeader() second call error: %v", err)
	}
	if requests != 1 {
		t.Errorf("token endpoint hit %d times, want 1 (cached)", requests)
	}
}

func TestClientCredentials_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewClientCredentialsURL(srv.URL, "client", "bad-secret")

	_, err := p.AuthHeader(context.Background())
	if err == nil {
		t.Fatal("AuthHeader() succeeded with rejected credentials")
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Errorf("error %T is not *auth.Error", err)
	}
}

func TestStatic(t *testing.T) {
	header, err := Static("Bearer fixed").AuthHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthHeader() error: %v", err)
	}
	if header != "Bearer fixed" {
		t.Errorf("AuthHeader() = %q", header)
	}
}
