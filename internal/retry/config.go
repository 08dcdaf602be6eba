package retry

import (
	"time"
)

// Config controls the retry policy.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry, before jitter.
	BaseDelay time.Duration
	// MaxDelay caps every delay, jitter included.
	MaxDelay time.Duration
	// JitterMax bounds the uniform random jitter added to each delay.
	JitterMax time.Duration
	// AttemptTimeout bounds a single invocation of the operation.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the policy used for vision model calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		JitterMax:      time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Delay returns the wait before attempt number attempt (attempt >= 2):
// min(BaseDelay*2^(attempt-2) + jitter, MaxDelay).
func Delay(attempt int, cfg Config, jitter time.Duration) time.Duration {
	if attempt < 2 {
		return 0
	}

	d := cfg.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}

	d += jitter
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}
