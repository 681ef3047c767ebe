package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPCoordinator delegates rendering to the render service over HTTP.
type HTTPCoordinator struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCoordinator creates a coordinator client for the render service.
func NewHTTPCoordinator(baseURL string) *HTTPCoordinator {
	return &HTTPCoordinator{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func (c *HTTPCoordinator) WithHTTPClient(hc *http.Client) *HTTPCoordinator {
	c.httpClient = hc
	return c
}

// Render implements Coordinator.
func (c *HTTPCoordinator) Render(ctx context.Context, renderReq *Request) (*Result, error) {
	body, err := json.Marshal(renderReq)
	if err != nil {
		return nil, fmt.Errorf("render: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("render: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: hand-off call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render: service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("render: decode result: %w", err)
	}
	return &result, nil
}
