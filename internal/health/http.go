package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker reports an upstream HTTP service as healthy when it answers a
// HEAD request without a server error.
type HTTPChecker struct {
	url    string
	client *http.Client
}

// NewHTTPChecker creates a checker probing url. A nil client gets a 5s timeout.
func NewHTTPChecker(url string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPChecker{url: url, client: client}
}

// HealthCheck sends a HEAD request to the configured URL.
func (c *HTTPChecker) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
