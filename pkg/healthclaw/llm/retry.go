package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryBackend retries transient failures of the wrapped backend.
type retryBackend struct {
	next    Backend
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WithRetry wraps b so transient failures are retried up to retries times,
// waiting backoff (doubled each attempt, or the server's Retry-After) between
// attempts.
func WithRetry(b Backend, retries int, backoff time.Duration, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryBackend{next: b, retries: retries, backoff: backoff, logger: logger}
}

func (r *retryBackend) Name() string { return r.next.Name() }

func (r *retryBackend) Complete(ctx context.Context, req Request) (string, error) {
	wait := r.backoff
	for attempt := 0; ; attempt++ {
		out, err := r.next.Complete(ctx, req)
		if err == nil || attempt >= r.retries || !IsTransient(err) {
			return out, err
		}

		delay := wait
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfterSec > 0 {
			delay = time.Duration(apiErr.RetryAfterSec) * time.Second
		}
		r.logger.Warn("transient model error, retrying",
			"backend", r.next.Name(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		wait *= 2
	}
}
