// Package retry wraps exponential backoff for storage operations.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

// Config controls exponential backoff between attempts.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// NewBackOff builds the backoff policy for cfg. Attempts are bounded by
// MaxAttempts rather than by elapsed time.
func NewBackOff(ctx context.Context, cfg Config) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		exp.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		exp.MaxInterval = cfg.MaxBackoff
	}
	if cfg.Multiplier >= 1 {
		exp.Multiplier = cfg.Multiplier
	}
	exp.MaxElapsedTime = 0

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error or the
// attempts are exhausted. The last error is returned.
func Do(ctx context.Context, cfg Config, op func() error, notify func(err error, wait time.Duration)) error {
	wrapped := func() error {
		err := op()
		if err != nil && !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(wrapped, NewBackOff(ctx, cfg), notify)
}
