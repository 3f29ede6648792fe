package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Credential opens one agent stream. Tokens are held in memory for the
// active session only.
type Credential struct {
	Token     string
	ExpiresAt time.Time

	// APIKey marks a long-lived key rather than an ephemeral token.
	APIKey bool
}

func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type CredentialSource interface {
	Fetch(ctx context.Context) (Credential, error)
}

// HTTPCredentialSource fetches ephemeral tokens from the trusted minting
// endpoint (POST, JSON {"token", "expires_at"}).
type HTTPCredentialSource struct {
	URL    string
	Client *http.Client
}

type credentialResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *HTTPCredentialSource) Fetch(ctx context.Context) (Credential, error) {
	if s.URL == "" {
		return Credential{}, errors.New("credential url not configured")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("build credential request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("request credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, fmt.Errorf("credential endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	if payload.Token == "" {
		return Credential{}, errors.New("credential endpoint returned empty token")
	}
	return Credential{Token: payload.Token, ExpiresAt: payload.ExpiresAt}, nil
}

// StaticKey uses a long-lived API key directly. Only for local development
// when no minting endpoint is available.
type StaticKey string

func (k StaticKey) Fetch(context.Context) (Credential, error) {
	if k == "" {
		return Credential{}, errors.New("api key not configured")
	}
	return Credential{Token: string(k), APIKey: true}, nil
}
