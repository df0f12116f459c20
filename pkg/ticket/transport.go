package ticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"ticketpilot/pkg/logx"
)

// retryTransport retries transient tracker failures (connect errors, 5xx) a
// fixed number of times with exponential backoff. Client errors are never
// retried; requests whose body cannot be replayed are sent once.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	baseDelay   time.Duration
	logger      *logx.Logger
}

func newRetryTransport(base http.RoundTripper, maxAttempts int, baseDelay time.Duration) *retryTransport {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryTransport{
		base:        base,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logx.NewLogger("ticket"),
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			if req.Body != nil && req.GetBody == nil {
				break // body consumed, cannot replay
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("replay request body: %w", err)
				}
				req.Body = body
			}

			delay := time.Duration(float64(t.baseDelay) * math.Pow(2, float64(attempt-2)))
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			if !retryableNetErr(err) {
				return nil, err
			}
			lastErr = err
			t.logger.Warn("transient transport error (attempt %d/%d): %v", attempt, t.maxAttempts, err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("tracker returned %d", resp.StatusCode)
			// Drain so the pooled connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			t.logger.Warn("tracker 5xx (attempt %d/%d): %d", attempt, t.maxAttempts, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", t.maxAttempts, lastErr)
}

// retryableNetErr reports whether a transport error is worth retrying.
// Context cancellation and deadline expiry are not.
func retryableNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
