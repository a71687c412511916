// Package retry provides bounded retry loops with linear or exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps any single delay. Zero means no cap.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry. Ignored when Linear is set.
	Multiplier float64
	// Linear makes the n-th delay InitialBackoff*n.
	Linear bool
	// JitterFraction is the fraction of each delay used for jitter (0.0-1.0).
	JitterFraction float64
}

// Backoff returns the delay to wait after the given failed attempt (1-based), without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	if c.Linear {
		d = c.InitialBackoff * time.Duration(attempt)
	} else {
		mult := c.Multiplier
		if mult < 1 {
			mult = 1
		}
		f := float64(c.InitialBackoff)
		for i := 1; i < attempt; i++ {
			f *= mult
		}
		d = time.Duration(f)
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// ErrorClassifier determines if an error is retryable.
type ErrorClassifier func(error) bool

// IsRetryable treats everything except context errors as retryable.
func IsRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, the classifier rejects an error, the attempts
// are exhausted, or ctx is done. The last error from fn is returned wrapped.
func Do(ctx context.Context, cfg Config, classifier ErrorClassifier, fn func(context.Context) error) error {
	if classifier == nil {
		classifier = IsRetryable
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classifier(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		sleep := cfg.Backoff(attempt)
		sleep += jitter(sleep, cfg.JitterFraction)
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// jitter returns a random duration in range [-fraction*d, +fraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return 0
	}
	r := float64(d) * fraction
	return time.Duration((rand.Float64() - 0.5) * 2 * r)
}
