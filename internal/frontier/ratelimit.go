package frontier

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per registered domain. Acquire either
// takes a token immediately or reports how long until the next one frees,
// so callers can schedule back-off instead of busy-waiting.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*rate.Limiter
	defaultRPS   float64
	defaultBurst int
}

// NewRateLimiter constructs a limiter with a default refill rate applied to
// domains that were never explicitly registered.
func NewRateLimiter(defaultRPS float64, burst int) *RateLimiter {
	if defaultRPS <= 0 {
		defaultRPS = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		buckets:      make(map[string]*rate.Limiter),
		defaultRPS:   defaultRPS,
		defaultBurst: burst,
	}
}

// Register sets (or overrides) the refill rate for a domain. Bucket capacity
// equals the ceiling of the rate so a burst never exceeds one second's quota.
func (l *RateLimiter) Register(domain string, rps float64) {
	if rps <= 0 {
		rps = l.defaultRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	l.buckets[normalizeDomain(domain)] = rate.NewLimiter(rate.Limit(rps), burst)
	l.mu.Unlock()
}

// Acquire attempts to take a token for domain. On success it returns
// (true, 0); otherwise (false, wait) where wait is the delay until the next
// token. No token is consumed on failure.
func (l *RateLimiter) Acquire(domain string) (bool, time.Duration) {
	bucket := l.bucket(normalizeDomain(domain))
	res := bucket.Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *RateLimiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[domain]
	if !ok {
		burst := int(l.defaultRPS)
		if burst < 1 {
			burst = l.defaultBurst
		}
		bucket = rate.NewLimiter(rate.Limit(l.defaultRPS), burst)
		l.buckets[domain] = bucket
	}
	return bucket
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
