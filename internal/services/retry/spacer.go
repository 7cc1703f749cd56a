package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Spacer keeps successive calls at least a random [Min,Max] apart,
// measured from the end of the previous call
type Spacer struct {
	Min time.Duration
	Max time.Duration

	mu      sync.Mutex
	lastEnd time.Time
}

// NewSpacer creates a spacer with the given window
func NewSpacer(min, max time.Duration) *Spacer {
	if max < min {
		max = min
	}
	return &Spacer{Min: min, Max: max}
}

// Delay draws one spacing interval from the window
func (s *Spacer) Delay() time.Duration {
	if s.Max <= s.Min {
		return s.Min
	}
	return s.Min + time.Duration(rand.Int63n(int64(s.Max-s.Min)+1))
}

// Do waits out the spacing interval, then runs fn. Calls are serialized.
// The first call runs immediately.
func (s *Spacer) Do(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastEnd.IsZero() {
		next := s.lastEnd.Add(s.Delay())
		if wait := time.Until(next); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	err := fn(ctx)
	s.lastEnd = time.Now()
	return err
}

// Wait blocks for the spacing interval without running anything
func (s *Spacer) Wait(ctx context.Context) error {
	return s.Do(ctx, func(context.Context) error { return nil })
}
