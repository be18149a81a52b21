package render

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// retryPolicy decides whether a failed navigation attempt is worth
// repeating and how long to wait before doing so.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy(maxAttempts int) *retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &retryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// shouldRetry reports whether another attempt is allowed. Caller
// cancellation is never retried. Everything else is: connection and DNS
// failures are transient at this layer, and a per-attempt timeout gets
// a fresh deadline on the next attempt.
func (p *retryPolicy) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return ctx.Err() == nil
}

// backoff returns the jittered wait before the given attempt.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
