// Package executor wraps single calls to the conversation source with the
// retry policy for throttling and transient authentication failures.
package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sweepbot/internal/metrics"
	"sweepbot/internal/model"
)

// Options configures the retry policy.
type Options struct {
	// BaseDelay is the first rate-limit backoff; it doubles on every retry.
	BaseDelay  time.Duration
	MaxRetries int
	// AuthDelay is the fixed wait between transient authentication retries.
	AuthDelay      time.Duration
	MaxAuthRetries int
}

// DefaultOptions returns the production retry policy.
func DefaultOptions() Options {
	return Options{
		BaseDelay:      time.Second,
		MaxRetries:     5,
		AuthDelay:      2 * time.Second,
		MaxAuthRetries: 3,
	}
}

// Executor runs calls with retries.
type Executor struct {
	opts  Options
	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(opts Options, log *zap.Logger) *Executor {
	return &Executor{opts: opts, log: log, sleep: Sleep}
}

// Do invokes call, retrying on *model.RateLimitedError with exponential
// backoff and on *model.AuthTransientError with a fixed delay. Any other
// error is returned as is. Exhausted rate-limit retries return the last
// error; exhausted auth retries return a *model.AuthFailedError.
func (e *Executor) Do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var rateRetries, authRetries int
	maxAttempts := 1 + e.opts.MaxRetries + e.opts.MaxAuthRetries

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var rl *model.RateLimitedError
		var auth *model.AuthTransientError
		switch {
		case errors.As(err, &rl):
			if rateRetries >= e.opts.MaxRetries {
				return err
			}
			delay := e.opts.BaseDelay << rateRetries
			rateRetries++
			metrics.ObserveRetry(metrics.ReasonRateLimit)
			e.log.Warn("rate limited, backing off",
				zap.String("op", op),
				zap.Int("retry", rateRetries),
				zap.Duration("delay", delay),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		case errors.As(err, &auth):
			if authRetries >= e.opts.MaxAuthRetries {
				return &model.AuthFailedError{Attempts: authRetries + 1, Err: err}
			}
			authRetries++
			metrics.ObserveRetry(metrics.ReasonAuth)
			e.log.Warn("transient auth failure, retrying",
				zap.String("op", op),
				zap.Int("retry", authRetries),
				zap.Duration("delay", e.opts.AuthDelay),
			)
			if err := e.sleep(ctx, e.opts.AuthDelay); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return lastErr
}

// Call is Do for calls that return a value.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
