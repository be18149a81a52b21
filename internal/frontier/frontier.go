// Package frontier holds the working set of not-yet-crawled URLs, suppresses
// re-enqueues through a bloom-filter seen-set, and throttles dequeues with
// per-domain token buckets.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"crawl-engine/internal/metrics"
)

// ErrClosed is returned by Dequeue once the frontier is closed and drained.
var ErrClosed = errors.New("frontier closed")

// pollInterval bounds how long a dequeuer sleeps before rechecking domain
// token availability.
const pollInterval = 50 * time.Millisecond

// Item is one frontier entry.
type Item struct {
	JobID    string
	URL      string
	Domain   string
	Depth    int
	Priority int
}

// Frontier is the shared URL queue. All methods are safe for concurrent use.
type Frontier struct {
	limiter *RateLimiter

	mu     sync.Mutex
	items  []Item
	seen   *bloom.BloomFilter
	closed bool
	notify chan struct{}
}

// New constructs a Frontier sized for expectedURLs distinct entries at the
// given false-positive rate. The bloom filter admits false positives (a URL
// wrongly treated as seen) but never false negatives.
func New(limiter *RateLimiter, expectedURLs uint, fpRate float64) *Frontier {
	if expectedURLs == 0 {
		expectedURLs = 1_000_000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &Frontier{
		limiter: limiter,
		seen:    bloom.NewWithEstimates(expectedURLs, fpRate),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue adds a URL to the frontier. It is a silent no-op when the URL's
// canonical form was already seen or when depth exceeds maxDepth. Returns
// true only when the item was actually queued.
func (f *Frontier) Enqueue(item Item, maxDepth int) bool {
	if item.Depth > maxDepth {
		return false
	}
	canonical, err := NormalizeURL(item.URL)
	if err != nil {
		return false
	}
	item.URL = canonical
	if item.Domain == "" {
		item.Domain = DomainOf(canonical)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.seen.TestAndAddString(canonical) {
		return false
	}
	f.insert(item)
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an item whose domain bucket has capacity is available,
// the context ends, or the frontier is closed and drained. Time spent waiting
// on domain token buckets is recorded against the dequeued item's domain.
func (f *Frontier) Dequeue(ctx context.Context) (Item, error) {
	var throttled time.Duration
	for {
		f.mu.Lock()
		item, wait, found := f.takeEligible()
		closed := f.closed
		empty := len(f.items) == 0
		f.mu.Unlock()

		if found {
			if throttled > 0 {
				metrics.ObserveRateLimitDelay(item.Domain, throttled)
			}
			return item, nil
		}
		if closed && empty {
			return Item{}, ErrClosed
		}

		sleep := pollInterval
		if wait > 0 && wait < sleep {
			sleep = wait
		}
		start := time.Now()
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Item{}, fmt.Errorf("frontier dequeue: %w", ctx.Err())
		case <-f.notify:
			timer.Stop()
		case <-timer.C:
		}
		// Only sleeps caused by an exhausted token bucket count as rate
		// limit delay; waiting on an empty queue does not.
		if wait > 0 {
			throttled += time.Since(start)
		}
	}
}

// Close marks the frontier closed; queued items remain dequeueable.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Len reports the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Seen reports whether the URL's canonical form was already enqueued. A true
// answer may rarely be a bloom false positive.
func (f *Frontier) Seen(rawURL string) bool {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen.TestString(canonical)
}

// insert keeps items ordered by descending priority, FIFO within a priority.
func (f *Frontier) insert(item Item) {
	pos := len(f.items)
	for i, existing := range f.items {
		if item.Priority > existing.Priority {
			pos = i
			break
		}
	}
	f.items = append(f.items, Item{})
	copy(f.items[pos+1:], f.items[pos:])
	f.items[pos] = item
}

// takeEligible removes and returns the first item whose domain has a token.
// When none is eligible it reports the shortest wait among blocked domains.
func (f *Frontier) takeEligible() (Item, time.Duration, bool) {
	var minWait time.Duration
	checked := make(map[string]time.Duration)
	for i, item := range f.items {
		wait, tried := checked[item.Domain]
		if tried && wait > 0 {
			continue
		}
		if !tried {
			ok, w := f.limiter.Acquire(item.Domain)
			if ok {
				f.items = append(f.items[:i], f.items[i+1:]...)
				return item, 0, true
			}
			checked[item.Domain] = w
			wait = w
		}
		if minWait == 0 || (wait > 0 && wait < minWait) {
			minWait = wait
		}
	}
	return Item{}, minWait, false
}

// NormalizeURL standardizes a URL so equivalent spellings dedupe: lowercase
// scheme/host, default ports stripped, fragment removed, query sorted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// DomainOf extracts the lowercase hostname from a URL, or "" when invalid.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
