package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPError is returned when the admin API responds with a non-2xx status.
type HTTPError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("litemq: admin server returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether the admin API rejected the API key.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) AdminOption {
	return func(a *Admin) { a.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) AdminOption {
	return func(a *Admin) { a.http = hc }
}

// Admin reads broker state from the HTTP admin API. It is safe for
// concurrent use.
type Admin struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAdmin creates an Admin for the admin API at baseURL.
//
//	a := client.NewAdmin("http://localhost:42080")
func NewAdmin(baseURL string, opts ...AdminOption) *Admin {
	a := &Admin{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// QueueInfo is a snapshot of one queue.
type QueueInfo struct {
	Name    string `json:"name"`
	Length  int64  `json:"length"`
	Waiters int    `json:"waiters"`
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status string
	NodeID string
	Queues int
	Uptime time.Duration
}

// Queues returns every queue the broker knows, sorted by name.
func (a *Admin) Queues(ctx context.Context) ([]QueueInfo, error) {
	var resp struct {
		Queues []QueueInfo `json:"queues"`
	}
	if err := a.do(ctx, http.MethodGet, "/queues", &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// Health returns the node's status. An unhealthy node yields an *HTTPError
// with StatusCode 503.
func (a *Admin) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		Queues   int    `json:"queues"`
		UptimeMs int64  `json:"uptime_ms"`
	}
	if err := a.do(ctx, http.MethodGet, "/health", &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status: resp.Status,
		NodeID: resp.NodeID,
		Queues: resp.Queues,
		Uptime: time.Duration(resp.UptimeMs) * time.Millisecond,
	}, nil
}

// do performs a single bodiless request and decodes a JSON response into resp.
func (a *Admin) do(ctx context.Context, method, path string, resp any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("litemq: build request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("litemq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("litemq: read response body: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &HTTPError{StatusCode: httpResp.StatusCode, Message: msg}
	}
	if resp != nil && len(body) > 0 {
		if err := json.Unmarshal(body, resp); err != nil {
			return fmt.Errorf("litemq: decode response: %w", err)
		}
	}
	return nil
}
