package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wmharvest/pkg/clock"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// ErrMaxAttempts is wrapped by Do when the attempt budget runs out
var ErrMaxAttempts = errors.New("max retry attempts exceeded")

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Clock performs the waits
	Clock clock.Clock
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration that retries transport errors
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     OnTypes(errs.ErrorTypeNetwork),
		Clock:       clock.System{},
		Logger:      logger.NewNopLogger(),
	}
}

// OnTypes returns a predicate matching typed errors of the given types.
// Context errors never match.
func OnTypes(types ...errs.ErrorType) func(error) bool {
	return func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		t := errs.TypeOf(err)
		for _, want := range types {
			if t == want {
				return true
			}
		}
		return false
	}
}

// Do executes an operation with retry logic. Waiting stops early when ctx is done.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Backoff != nil {
		cfg.Backoff.Reset()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt - 1,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, cfg.MaxAttempts, lastErr)
		}

		err := op()
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if cfg.RetryIf == nil || !cfg.RetryIf(err) {
			return err
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.DebugWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay":        delay,
			"max_attempts": cfg.MaxAttempts,
		})

		if err := c.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}
