// Package retry runs an operation under a bounded attempt budget, waiting on an
// injectable clock between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goretry "github.com/sethvargo/go-retry"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how an operation is retried. Backoff builds a fresh backoff
// sequence for every Do call; the go-retry constructors fit directly.
type Policy struct {
	MaxAttempts int
	Backoff     func() goretry.Backoff
	// Retryable reports whether err is worth another attempt. Nil means every
	// error is retryable.
	Retryable func(err error) bool
	Clock     clockwork.Clock
	// OnRetry is called after a failed attempt, before waiting delay.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func Exponential(base time.Duration) func() goretry.Backoff {
	return func() goretry.Backoff { return goretry.NewExponential(base) }
}

func Constant(d time.Duration) func() goretry.Backoff {
	return func() goretry.Backoff { return goretry.NewConstant(d) }
}

// Do calls fn until it succeeds, returns a non-retryable error, or MaxAttempts
// calls have been made. Exhaustion returns an error matching both ErrExhausted
// and the last error fn returned. Context cancellation aborts the wait.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var b goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	if p.Backoff != nil {
		b = p.Backoff()
	}
	b = goretry.WithMaxRetries(uint64(max-1), b)

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		delay, stop := b.Next()
		if stop {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
	}
}
