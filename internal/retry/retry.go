// Package retry runs store writes and broker publishes with exponential
// backoff. Channel deliveries are never retried.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // Retries after the first attempt (0 = none)
	InitialBackoff time.Duration // Backoff before the first retry
	MaxBackoff     time.Duration // Cap on a single backoff
	BackoffFactor  float64       // Growth per attempt
}

// DefaultConfig returns 3 retries from 100ms doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its message.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err looks transient: explicitly marked errors,
// network timeouts and the usual connection and throttling messages.
// Context cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"invalid", "malformed", "violates", "duplicate key", "cannot be empty"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary",
		"too many connections",
		"leader not available",
		"not leader for partition",
		"rate limit",
		"throttl",
		"503",
		"502",
		"504",
		"try again",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithRetry runs fn until it succeeds, fails with a non-retryable error,
// exhausts the retries or ctx ends.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt+1,
				)
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err,
			)
			return err
		}

		backoff := Backoff(cfg, attempt)
		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// Backoff returns the delay before retry number attempt+1, with ±25% jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff)
}
