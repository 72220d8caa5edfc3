package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newFakeDiscord stands in for the token and profile endpoints.
func newFakeDiscord(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token form: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		switch r.Form.Get("code") {
		case "good-code":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "access-123"})
		case "rejected-code":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{
			ID:       "123456789",
			Username: "railfan",
			Email:    "railfan@example.com",
			Avatar:   "abc123",
		})
	})

	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient("client-id", "client-secret", "http://localhost/callback").
		WithBaseURLs(srv.URL+"/oauth2", srv.URL)
}

func TestAuthURL(t *testing.T) {
	c := NewClient("client-id", "client-secret", "http://localhost/callback")
	raw := c.AuthURL("state-token")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	if !strings.HasPrefix(raw, "https://discord.com/api/oauth2/authorize?") {
		t.Errorf("unexpected auth URL %q", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "client-id" {
		t.Errorf("expected client_id, got %q", q.Get("client_id"))
	}
	if q.Get("scope") != "identify email" {
		t.Errorf("expected identify email scope, got %q", q.Get("scope"))
	}
	if q.Get("state") != "state-token" {
		t.Errorf("expected state, got %q", q.Get("state"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", q.Get("response_type"))
	}
}

func TestExchange(t *testing.T) {
	srv := newFakeDiscord(t)
	defer srv.Close()
	c := newTestClient(srv)

	p, err := c.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if p.ID != "123456789" || p.Username != "railfan" {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.Email != "railfan@example.com" {
		t.Errorf("unexpected email %q", p.Email)
	}
}

func TestExchangeFailures(t *testing.T) {
	srv := newFakeDiscord(t)
	defer srv.Close()
	c := newTestClient(srv)

	tests := []struct {
		name string
		code string
	}{
		{name: "rejected code", code: "rejected-code"},
		{name: "unknown code", code: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Exchange(context.Background(), tt.code)
			if !errors.Is(err, ErrUpstream) {
				t.Fatalf("expected ErrUpstream, got %v", err)
			}
		})
	}
}

func TestExchangeUnreachableProvider(t *testing.T) {
	srv := newFakeDiscord(t)
	srv.Close() // connection refused from here on
	c := newTestClient(srv)

	_, err := c.Exchange(context.Background(), "good-code")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestExchangeMalformedProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "access-123"})
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"username": "no-id"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Exchange(context.Background(), "good-code")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream for profile without id, got %v", err)
	}
}
