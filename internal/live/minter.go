package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const DefaultTokenTTL = 30 * time.Minute

// GeminiMinter mints single-use ephemeral tokens for the Live API from a
// server-held API key.
type GeminiMinter struct {
	client *genai.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewGeminiMinter(ctx context.Context, apiKey, baseURL string, ttl time.Duration) (*GeminiMinter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	config.HTTPOptions.APIVersion = "v1alpha"
	if baseURL != "" {
		config.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiMinter{client: client, ttl: ttl, now: time.Now}, nil
}

func (m *GeminiMinter) Mint(ctx context.Context) (Credential, error) {
	expires := m.now().Add(m.ttl).UTC()
	token, err := m.client.Tokens.Create(ctx, &genai.CreateAuthTokenConfig{ExpireTime: expires})
	if err != nil {
		return Credential{}, &Error{Kind: KindCredential, Op: "mint token", Err: err}
	}
	if token == nil || token.Name == "" {
		return Credential{}, &Error{Kind: KindCredential, Op: "mint token", Err: errors.New("empty token")}
	}
	return Credential{Token: token.Name, ExpiresAt: expires}, nil
}
