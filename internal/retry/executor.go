package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Result describes one Execute call.
type Result struct {
	Attempts int
	Delays   []time.Duration
	Duration time.Duration
	Err      error
}

// Executor runs operations under a Config.
type Executor struct {
	cfg      Config
	jitter   func(limit time.Duration) time.Duration
	observer func(Result)
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver registers a callback invoked once per Execute with its outcome.
func WithObserver(fn func(Result)) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

// WithJitterSource replaces the random jitter source.
func WithJitterSource(fn func(limit time.Duration) time.Duration) Option {
	return func(e *Executor) {
		e.jitter = fn
	}
}

// NewExecutor creates an Executor. Zero-valued fields of cfg fall back to
// DefaultConfig, except MaxRetries and JitterMax where zero is meaningful.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Executor{cfg: cfg, jitter: uniformJitter}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective policy.
func (e *Executor) Config() Config {
	return e.cfg
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// Execute invokes op until it succeeds, fails with a non-retryable error, or
// the retry budget is spent. Each attempt runs under its own timeout derived
// from ctx. Cancelling ctx stops further attempts.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	start := time.Now()
	res := Result{}

	backoff := goretry.WithMaxRetries(uint64(e.cfg.MaxRetries), goretry.BackoffFunc(func() (time.Duration, bool) {
		d := Delay(res.Attempts+1, e.cfg, e.jitter(e.cfg.JitterMax))
		res.Delays = append(res.Delays, d)
		return d, false
	}))

	var lastErr error
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		opErr := op(attemptCtx)
		if opErr == nil {
			return nil
		}

		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			opErr = fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, e.cfg.AttemptTimeout, opErr)
		}

		lastErr = opErr
		if IsRetryable(opErr) {
			return goretry.RetryableError(opErr)
		}
		return opErr
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		if lastErr != nil {
			err = fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		}
	case IsRetryable(lastErr):
		err = fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, res.Attempts, err)
	}

	res.Duration = time.Since(start)
	res.Err = err
	if e.observer != nil {
		e.observer(res)
	}
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
