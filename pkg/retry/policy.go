package retry

import (
	"time"

	errs "civitscraper/pkg/errors"
)

// Decision is the outcome of consulting a Policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	// RetryAfter is the server's requested wait when it was larger than
	// the policy ceiling and Delay was cut down to that ceiling.
	RetryAfter time.Duration
}

// Clamped reports whether a server-provided Retry-After was cut short.
func (d Decision) Clamped() bool { return d.RetryAfter > 0 }

// DefaultMaxRetryAfter bounds how long a single Retry-After can stall a
// worker or the pager.
const DefaultMaxRetryAfter = 5 * time.Minute

// Policy decides whether a failed attempt is retried and how long to wait.
// It holds no per-call state and is safe to share between goroutines.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	Backoff     BackoffStrategy
	// MaxRetryAfter caps a server-provided Retry-After. Zero means
	// DefaultMaxRetryAfter.
	MaxRetryAfter time.Duration
}

// DefaultPolicy returns three attempts with 2s..10s exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
	}
}

// NewPolicy builds a policy from raw settings, falling back to defaults for
// zero values.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	eb := DefaultExponentialBackoff()
	if baseDelay > 0 {
		eb.BaseDelay = baseDelay
	}
	if maxDelay > 0 {
		eb.MaxDelay = maxDelay
	}
	p.Backoff = eb
	return p
}

// ShouldRetry reports whether to try again after attempt (1-based) failed
// with failure. Permanent failures never retry. A server-provided
// Retry-After overrides the computed backoff, up to MaxRetryAfter.
func (p Policy) ShouldRetry(attempt int, failure error) Decision {
	if failure == nil || errs.ClassOf(failure) != errs.ClassTransient {
		return Decision{}
	}
	if attempt >= p.maxAttempts() {
		return Decision{}
	}

	if d, ok := errs.RetryAfterOf(failure); ok {
		if ceiling := p.maxRetryAfter(); d > ceiling {
			return Decision{Retry: true, Delay: ceiling, RetryAfter: d}
		}
		return Decision{Retry: true, Delay: d}
	}

	var delay time.Duration
	if p.Backoff != nil {
		delay = p.Backoff.NextDelay(attempt)
	}
	return Decision{Retry: true, Delay: delay}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) maxRetryAfter() time.Duration {
	if p.MaxRetryAfter <= 0 {
		return DefaultMaxRetryAfter
	}
	return p.MaxRetryAfter
}
