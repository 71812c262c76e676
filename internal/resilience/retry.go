package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMultiplier     = 2.0
	defaultJitter         = 0.25
)

// RetryConfig is the backoff policy for one kind of call. Zero fields take
// the package defaults.
type RetryConfig struct {
	MaxAttempts    int // total attempts, first try included
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64 // 0.25 means the delay varies by up to ±25%

	// ShouldRetry replaces IsTransient when set.
	ShouldRetry func(err error) bool
	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the policy used for model and download calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Multiplier:     defaultMultiplier,
		JitterFraction: defaultJitter,
	}
}

// Stats reports how a retried operation ended.
type Stats struct {
	// Attempts is the number of times fn was invoked.
	Attempts int
	// Interrupted is set when ctx ended before the operation either
	// succeeded, failed permanently, or used up its attempts.
	Interrupted bool
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed transient (via ShouldRetry or the default IsTransient check).
//
// Context cancellation never aborts an attempt that has already started:
// fn owns the context it passes to its own I/O. Cancellation prevents new
// attempts and cuts backoff sleeps short, in which case Stats.Interrupted
// is set and the last error (or ctx.Err() if no attempt ran) is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) (Stats, error) {
	_, st, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return st, err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, Stats, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var st Stats
	var lastErr error
	for st.Attempts < cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			st.Interrupted = true
			if lastErr == nil {
				lastErr = err
			}
			return zero, st, lastErr
		}

		val, err := fn(ctx)
		st.Attempts++
		if err == nil {
			return val, st, nil
		}
		lastErr = err

		// Don't retry non-transient errors.
		if !shouldRetry(lastErr) {
			return zero, st, lastErr
		}

		// Don't sleep after the last attempt.
		if st.Attempts >= cfg.MaxAttempts {
			break
		}

		if ctx.Err() != nil {
			st.Interrupted = true
			return zero, st, lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(st.Attempts, lastErr)
		}

		delay := computeBackoff(st.Attempts-1, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			st.Interrupted = true
			return zero, st, lastErr
		case <-timer.C:
		}
	}

	return zero, st, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	d := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = d.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := min(float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)), float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.JitterFraction
	}
	return time.Duration(max(delay, 0))
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string, fields ...zap.Field) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			append([]zap.Field{
				zap.String("service", service),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			}, fields...)...,
		)
	}
}
