package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tally/internal/config"
)

const userAgent = "Tally-Go/0.1.0"

// Client posts operation payloads to the attendance backend. A nil client is
// usable and fails every call, which keeps items queued until the backend is
// configured.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient builds an HTTP client for the backend declared in cfg. When no
// endpoint is configured, nil is returned; operations then fail with a clear
// error instead of dialing nowhere.
func NewClient(cfg *config.Config) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Server.Endpoint), "/")
	if endpoint == "" {
		return nil
	}

	timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Server.APIToken),
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("no attendance backend configured")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("backend returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
