package reliability

import (
	"math/rand"
	"time"

	"github.com/ternlabs/tern/internal/agent/config"
)

const maxBackoff = 60 * time.Second

// BackoffDelay returns how long to wait before attempt n (0-indexed, the
// delay preceding the (n+1)th try) under policy, applying spec.md §4.3.1's
// three curves and the 60s hard cap.
func BackoffDelay(policy config.RetryPolicy, attempt int) time.Duration {
	var d time.Duration
	switch policy.Formula {
	case config.BackoffLinear:
		d = policy.BaseDelay * time.Duration(attempt+1)
	case config.BackoffExponential:
		d = policy.BaseDelay * time.Duration(1<<uint(attempt))
	case config.BackoffExponentialWithJitter:
		base := policy.BaseDelay * time.Duration(1<<uint(attempt))
		if policy.MaxDelay > 0 && base > policy.MaxDelay {
			base = policy.MaxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(float64(policy.BaseDelay) * 0.25 * float64(uint(1)<<uint(attempt)))) + 1)
		d = base + jitter
	case config.BackoffNone:
		d = 0
	default:
		d = policy.BaseDelay
	}

	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Retryable reports whether policy permits another attempt, given the
// number of attempts already made.
func Retryable(policy config.RetryPolicy, attemptsMade int) bool {
	return attemptsMade < policy.MaxAttempts
}
