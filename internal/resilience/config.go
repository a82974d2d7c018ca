package resilience

import (
	"context"
	"errors"
	"time"
)

// PolicyFromConfig builds a RetryPolicy from flat config values. Zero or
// negative values keep the defaults.
func PolicyFromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier float64) RetryPolicy {
	p := DefaultRetryPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		p.Multiplier = multiplier
	}
	return p
}

// BreakerFromConfig builds a BreakerConfig whose failures count only when
// transient or a deadline expiry, so a bad request never opens a provider's
// breaker.
func BreakerFromConfig(threshold, cooldownSecs int) BreakerConfig {
	c := DefaultBreakerConfig()
	if threshold > 0 {
		c.Threshold = threshold
	}
	if cooldownSecs > 0 {
		c.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	c.Counts = func(err error) bool {
		return IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
	}
	return c
}
