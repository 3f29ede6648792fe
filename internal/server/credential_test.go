package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/live"
)

type minterStub struct {
	cred live.Credential
	err  error
}

func (m minterStub) Mint(context.Context) (live.Credential, error) {
	return m.cred, m.err
}

func postCredential(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/credential", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCredentialMinted(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := newTestHandler(t, newAPIStoreStub(), ControlHooks{
		Minter: minterStub{cred: live.Credential{Token: "auth_tokens/abc123", ExpiresAt: expires}},
	})

	rr := postCredential(h, "127.0.0.1:52000")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Token != "auth_tokens/abc123" || !body.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected credential %+v", body)
	}
}

func TestCredentialUnavailableWithoutKey(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), ControlHooks{})

	if rr := postCredential(h, "127.0.0.1:52000"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCredentialMintFailure(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), ControlHooks{
		Minter: minterStub{err: errors.New("quota exceeded")},
	})

	if rr := postCredential(h, "[::1]:52000"); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestCredentialRejectsRemoteClients(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), ControlHooks{
		Minter: minterStub{cred: live.Credential{Token: "auth_tokens/abc123"}},
	})

	if rr := postCredential(h, "192.0.2.10:52000"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestCredentialSourceAgainstEndpoint(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := newTestHandler(t, newAPIStoreStub(), ControlHooks{
		Minter: minterStub{cred: live.Credential{Token: "auth_tokens/xyz", ExpiresAt: expires}},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	src := &live.HTTPCredentialSource{URL: srv.URL + "/api/credential"}
	cred, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if cred.Token != "auth_tokens/xyz" || cred.APIKey || !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected credential %+v", cred)
	}
}
