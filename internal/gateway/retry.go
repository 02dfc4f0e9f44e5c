package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxRetries = 2

// statusError is a non-2xx gateway response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// postRetry is post with exponential backoff for transient failures
// (network errors, 5xx, 429). Delivery is best effort: two retries, then
// the error propagates.
func (c *Client) postRetry(ctx context.Context, path string, body any) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Backoff with jitter to avoid hammering a struggling gateway.
			base := time.Duration(attempt*attempt) * time.Second
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			c.logger.Warn("retrying gateway call", "path", path, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.post(ctx, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if se, ok := err.(*statusError); ok {
			if se.code < 500 && se.code != http.StatusTooManyRequests {
				return nil, err // client-side error, retrying won't help
			}
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}
