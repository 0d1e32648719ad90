package enrich

import (
	"context"
	"errors"
	"time"

	"playlog/internal/pipeline"
)

// RetryPolicy bounds in-run retries for transient fetch failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy mirrors the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// backoff returns the pause before retry number attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// retriable reports whether an attempt is worth repeating within the run.
// Not-found is a terminal answer, a rate limit stops the whole run, and
// storage or cancellation failures abort, so none of those are retried.
func retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pipeline.ErrNotFound) || errors.Is(err, pipeline.ErrRateLimited) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !pipeline.Fatal(err)
}
