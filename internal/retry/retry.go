// Package retry re-runs operations that fail on lock contention.
package retry

import (
	"context"
	"time"

	"sessiondb/internal/dberr"
	"sessiondb/internal/telemetry"
	"sessiondb/pkg/logger"
)

const (
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxBackoff = 8 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type settings struct {
	base  time.Duration
	max   time.Duration
	sleep SleepFunc
	log   *logger.Logger
}

type Option func(*settings)

// WithMaxBackoff caps a single wait.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.max = d
		}
	}
}

// WithBaseDelay sets the wait before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.base = d
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(s *settings) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// Run calls op until it succeeds, fails with a non-contention error, or has
// been retried maxRetries times. The wait before retry n (0-based) is
// min(2^n * base, maxBackoff). op must be safe to run again from scratch.
func Run[T any](ctx context.Context, maxRetries int, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	s := settings{base: DefaultBaseDelay, max: DefaultMaxBackoff, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.GetDefaultLogger()
	}

	for retryCount := 0; ; retryCount++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}

		cond := dberr.ConditionOf(err)
		if cond == dberr.ConditionNone {
			s.log.Z().Debug().Err(err).Int("attempt", retryCount+1).Msg("not a contention error, giving up")
			return res, err
		}
		if retryCount >= maxRetries {
			telemetry.RetryExhaustedTotal.Inc()
			s.log.Z().Warn().Err(err).Str("condition", string(cond)).Int("retries", retryCount).Msg("contention retries exhausted")
			return res, err
		}

		delay := Backoff(retryCount, s.base, s.max)
		telemetry.RetriesTotal.With(string(cond)).Inc()
		s.log.Z().Debug().Str("condition", string(cond)).Int("attempt", retryCount+1).Dur("retry_delay", delay).Msg("contention detected, retrying")

		if err := s.sleep(ctx, delay); err != nil {
			var zero T
			return zero, dberr.Wrap(dberr.CodeDB, "retry", err)
		}
	}
}

// Backoff returns min(2^retryCount * base, max).
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		if delay > max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
