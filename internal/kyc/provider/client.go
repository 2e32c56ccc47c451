// Package provider is the HTTP client for the hosted identity-verification
// service. Failures surface as retryable errors; the orchestrator never maps
// them onto ledger-level signals.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"veil/internal/platform/config"
	"veil/pkg/sentinel"
)

// CreatedSession is the provider's handle for a freshly opened verification
// flow.
type CreatedSession struct {
	ExternalID string `json:"id"`
	SessionURL string `json:"url"`
}

// Client talks to the hosted verifier.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateSession opens a hosted verification session for wallet.
func (c *Client) CreateSession(ctx context.Context, wallet common.Address) (CreatedSession, error) {
	body, err := json.Marshal(map[string]string{"reference": wallet.Hex()})
	if err != nil {
		return CreatedSession{}, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return CreatedSession{}, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return CreatedSession{}, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return CreatedSession{}, fmt.Errorf("%w: provider returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return CreatedSession{}, fmt.Errorf("provider rejected session request: %d", resp.StatusCode)
	}

	var created CreatedSession
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return CreatedSession{}, fmt.Errorf("decode session response: %w", err)
	}
	return created, nil
}
