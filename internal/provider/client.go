// Package provider fetches desired variable sets from the external secret
// source over HTTP.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"envsyncd/internal/envfile"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps secret downloads at 10MB. A variable set near
	// this size is misconfiguration, not data.
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "envsyncd/1.0"
)

// ErrAuth marks a rejected credential. The scheduler treats it like any
// other fetch failure (retry next tick), but logs it distinctly.
var ErrAuth = errors.New("secret provider rejected credentials")

// Credentials identify one fetch: the bearer token plus the provider-side
// coordinates of the config to download.
type Credentials struct {
	Token       string
	Project     string
	Environment string
}

// Client downloads flat key/value variable maps from a Doppler-style
// secrets API. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// FetchVariables downloads the variable set for the given coordinates.
// Failures have no side effects; the caller retries on its next cycle.
func (c *Client) FetchVariables(ctx context.Context, creds Credentials) (envfile.VariableSet, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("project", creds.Project)
	q.Set("config", creds.Environment)
	endpoint := c.baseURL + "/v3/configs/config/secrets/download?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build secrets request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch secrets for %s/%s: %w", creds.Project, creds.Environment, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetch secrets for %s/%s: %w (status %d)", creds.Project, creds.Environment, ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch secrets for %s/%s: unexpected status %s", creds.Project, creds.Environment, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read secrets response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("secrets response exceeds %d byte limit", maxResponseSize)
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode secrets response: %w", err)
	}
	return envfile.VariableSet(raw), nil
}
