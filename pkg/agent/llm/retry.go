package llm

import (
	"context"
	"time"

	"ticketpilot/pkg/agent/llmerrors"
	"ticketpilot/pkg/logx"
)

// RetryConfig bounds the backoff applied around a raw provider client.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the policy used when config is silent.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
	}
}

type retryClient struct {
	inner  Client
	cfg    RetryConfig
	logger *logx.Logger
}

// WithRetry wraps a raw provider client with classified-error retry.
// Non-retryable errors (auth, bad prompt) surface immediately.
func WithRetry(inner Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &retryClient{
		inner:  inner,
		cfg:    cfg,
		logger: logx.NewLogger("llm"),
	}
}

func (r *retryClient) Complete(ctx context.Context, in Request) (Response, error) {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.inner.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !llmerrors.IsRetryable(err) {
			return Response{}, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		r.logger.Warn("completion attempt %d/%d failed (%s), retrying in %s: %v",
			attempt, r.cfg.MaxAttempts, llmerrors.TypeOf(err), delay, err)

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
	return Response{}, lastErr
}

func (r *retryClient) Stream(ctx context.Context, in Request) (<-chan StreamChunk, error) {
	// Stream errors surface on the channel; retry only the initial dial.
	ch, err := r.inner.Stream(ctx, in)
	if err != nil && llmerrors.IsRetryable(err) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.InitialDelay):
		}
		return r.inner.Stream(ctx, in)
	}
	return ch, err
}

func (r *retryClient) ModelName() string { return r.inner.ModelName() }
