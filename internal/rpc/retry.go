package rpc

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff returns the delay before the given retry (1-based):
// initial * multiplier^(retry-1), capped at max.
func calculateBackoff(retry int, cfg *config.RetryConfig) time.Duration {
	if retry < 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(retry-1))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	return time.Duration(backoff)
}

// RetryWithBackoff runs fn, retrying retryable failures at most cfg.MaxRetries times.
// It returns the number of calls made. Fatal errors and context cancellation stop immediately.
func RetryWithBackoff(
	ctx context.Context,
	cfg *config.RetryConfig,
	operation string,
	sleep Sleeper,
	fn func(ctx context.Context) error,
) (int, error) {
	if sleep == nil {
		sleep = ContextSleep
	}

	if cfg == nil {
		// No retry config, execute once
		return 1, fn(ctx)
	}

	var lastErr error
	attempts := 0
	startTime := time.Now()

	for retry := 0; retry <= cfg.MaxRetries; retry++ {
		if retry > 0 {
			if err := sleep(ctx, calculateBackoff(retry, cfg)); err != nil {
				return attempts, fmt.Errorf("context cancelled during backoff (retry %d/%d): %w",
					retry, cfg.MaxRetries, err)
			}
			RPCRetryInc(operation)
		}

		if err := ctx.Err(); err != nil {
			return attempts, fmt.Errorf("context cancelled before attempt %d: %w", attempts+1, err)
		}

		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return attempts, fmt.Errorf("context cancelled during attempt %d: %w", attempts, ctx.Err())
		}

		if !IsRetryable(err) {
			return attempts, fmt.Errorf("non-retryable error on attempt %d: %w", attempts, err)
		}
	}

	return attempts, fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		attempts, time.Since(startTime), lastErr)
}
