// Package retry wraps transient-failure handling for outbound calls.
//
// Classification follows the engine's error model: 5xx, 429, timeouts and
// connection errors are retryable; 400, 401, 403, and 404 are permanent
// and surface immediately. Caller cancellation aborts between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy controls attempt count and backoff growth. The delay before
// attempt n is BaseDelay * 2^(n-1), with no jitter so behavior is
// deterministic under test.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Default matches the engine configuration defaults.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// StatusError carries an HTTP status from an external system call so the
// policy (and the engine's record-level error handling) can classify it.
type StatusError struct {
	System string
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d: %s", e.System, e.URL, e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable classifies an arbitrary error. Unknown errors (I/O,
// connection resets, timeouts) default to retryable; only explicit
// non-retryable statuses and context cancellation are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Do runs op under the policy. Non-retryable errors and context
// cancellation return immediately; everything else is retried with
// exponential backoff up to MaxAttempts total attempts.
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < p.MaxAttempts {
			log.Warn().
				Str("op", name).
				Int("attempt", attempt).
				Int("maxAttempts", p.MaxAttempts).
				Err(err).
				Msg("transient failure, backing off")
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1)), ctx))
}
