// Package session provides browser session provisioning for invocations.
// The dev server acquires one session per invocation before triggering the
// bridge and releases it on every terminal path.
//
// Two providers are included: Browserbase, a thin REST client for the hosted
// sessions API, and Local, an offline stub for development without
// credentials.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/browserbase/functions/internal/domain"
)

// DefaultAPIURL is the hosted Browserbase API base URL.
const DefaultAPIURL = "https://api.browserbase.com"

// defaultHTTPTimeout bounds session create/release calls.
const defaultHTTPTimeout = 30 * time.Second

// BrowserbaseConfig configures the hosted provider.
type BrowserbaseConfig struct {
	APIURL    string // base URL; empty uses DefaultAPIURL
	APIKey    string // required
	ProjectID string // injected into create requests unless the config sets one
}

// Browserbase provisions sessions from the Browserbase sessions API.
type Browserbase struct {
	apiURL    string
	apiKey    string
	projectID string
	client    *http.Client
}

// NewBrowserbase creates a hosted session provider.
func NewBrowserbase(cfg BrowserbaseConfig) *Browserbase {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Browserbase{
		apiURL:    apiURL,
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Create provisions a browser session. The function's sessionConfig is
// passed through verbatim, aside from the projectId the adapter injects when
// the config does not carry its own.
func (b *Browserbase) Create(ctx context.Context, config map[string]any) (*domain.Session, error) {
	body := make(map[string]any, len(config)+1)
	for k, v := range config {
		body[k] = v
	}
	if _, ok := body["projectId"]; !ok && b.projectID != "" {
		body["projectId"] = b.projectID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal session config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BB-API-Key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create session: %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	var sess domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("create session: response missing id")
	}
	return &sess, nil
}

// Release requests the session be released. Callers log and swallow release
// failures; a failed release must never fail an invocation.
func (b *Browserbase) Release(ctx context.Context, id string) error {
	body := map[string]any{"status": "REQUEST_RELEASE"}
	if b.projectID != "" {
		body["projectId"] = b.projectID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal release request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/v1/sessions/"+id, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BB-API-Key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("release session %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("release session %s: %s: %s", id, resp.Status, readErrorBody(resp.Body))
	}
	return nil
}

// readErrorBody returns a short snippet of an error response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "(no body)"
	}
	return string(data)
}
