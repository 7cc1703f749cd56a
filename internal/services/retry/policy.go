// Package retry holds the backoff policy and request spacing used by the
// network-bound steps of ingestion.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/models"
)

// Policy defines retry behavior with exponential backoff and additive jitter
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Jitter          time.Duration
	RetryableErrors []error
}

// retryable is implemented by errors that know whether a retry can help
type retryable interface {
	Retryable() bool
}

// NewPolicy creates a policy from configuration
func NewPolicy(cfg common.RetryConfig) *Policy {
	return &Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
		RetryableErrors: []error{
			context.DeadlineExceeded,
		},
	}
}

// maxDoublings bounds the exponent so an uncapped policy cannot overflow
const maxDoublings = 30

// Backoff returns the wait before the retry following attempt n (1-based):
// min(base*2^(n-1) + U[0,jitter), max). A MaxDelay of 0 means no cap.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && i <= maxDoublings && (p.MaxDelay <= 0 || delay < p.MaxDelay); i++ {
		delay *= 2
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// IsRetryable reports whether err is worth another attempt.
// A lost login never is.
func (p *Policy) IsRetryable(err error) bool {
	if err == nil || errors.Is(err, models.ErrReLoginRequired) || errors.Is(err, context.Canceled) {
		return false
	}

	for _, target := range p.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. The last error is returned on exhaustion.
func (p *Policy) Do(ctx context.Context, logger arbor.ILogger, fn func(context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil || !p.IsRetryable(lastErr) {
			logger.Debug().
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Non-retryable error, failing immediately")
			return lastErr
		}

		if attempt == attempts {
			break
		}

		backoff := p.Backoff(attempt)
		logger.Debug().
			Int("attempt", attempt).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("Retrying after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	logger.Warn().
		Int("max_attempts", attempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return lastErr
}
