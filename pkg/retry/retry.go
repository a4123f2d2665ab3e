package retry

import (
	"context"
	"fmt"
	"time"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
)

// Operation is one attempt of a retryable unit of work. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// OperationWithResult is an attempt that also produces a value
type OperationWithResult[T any] func(ctx context.Context, attempt int) (T, error)

// Config holds retry configuration
type Config struct {
	Policy Policy
	// OnRetry is called before sleeping ahead of each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Logger for retry attempts
	Logger logger.Logger
	// Op names the operation in log lines
	Op string
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Policy: DefaultPolicy(),
		Logger: logger.GetLogger(),
	}
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is cancelled. It returns the number of attempts made.
func Do(ctx context.Context, cfg *Config, op Operation) (int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, errs.Cancelled(cfg.Op, err)
		}

		attempt++
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"op":      cfg.Op,
					"attempt": attempt,
				})
			}
			return attempt, nil
		}

		if ctx.Err() != nil {
			return attempt, errs.Cancelled(cfg.Op, ctx.Err())
		}

		decision := cfg.Policy.ShouldRetry(attempt, err)
		if !decision.Retry {
			if errs.ClassOf(err) == errs.ClassTransient {
				log.WarnWithFields("retry attempts exhausted", map[string]interface{}{
					"op":       cfg.Op,
					"attempts": attempt,
					"error":    err.Error(),
				})
				return attempt, fmt.Errorf("max retry attempts (%d) exceeded: %w", attempt, err)
			}
			return attempt, err
		}

		if decision.Clamped() {
			log.WarnWithFields("Retry-After exceeds ceiling, waiting less", map[string]interface{}{
				"op":             cfg.Op,
				"retry_after_ms": decision.RetryAfter.Milliseconds(),
				"delay_ms":       decision.Delay.Milliseconds(),
			})
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, decision.Delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"op":           cfg.Op,
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     decision.Delay.Milliseconds(),
			"max_attempts": cfg.Policy.MaxAttempts,
		})

		if werr := Wait(ctx, decision.Delay); werr != nil {
			return attempt, errs.Cancelled(cfg.Op, werr)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, cfg *Config, op OperationWithResult[T]) (T, int, error) {
	var result T
	attempts, err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	})
	return result, attempts, err
}
