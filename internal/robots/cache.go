// Package robots fetches, parses, and caches robots.txt per domain, and
// answers allow/deny, crawl-delay, and sitemap queries. Missing, unreachable,
// or unparseable robots.txt degrades to "allow all"; robots handling must
// never become fatal to a crawl.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"crawl-engine/internal/kv"
)

// DefaultTTL bounds how often robots.txt is refetched per domain.
const DefaultTTL = 24 * time.Hour

const (
	maxRobotsBytes = 1 << 20
	kvKeyPrefix    = "robots:"
	fetchTimeout   = 10 * time.Second
)

// Verdict is the tri-state robots outcome. Unknown (no usable rules) is
// treated as allowed by callers.
type Verdict string

// Verdict values.
const (
	VerdictAllowed    Verdict = "allowed"
	VerdictDisallowed Verdict = "disallowed"
	VerdictUnknown    Verdict = "unknown"
)

// Fetcher retrieves a robots.txt body. Injected so tests construct doubles
// instead of patching HTTP internals.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (status int, body []byte, err error)
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher builds a Fetcher with its own bounded timeout, isolated
// from job-level deadlines.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: fetchTimeout},
		userAgent: userAgent,
	}
}

// Get fetches rawURL and returns the status plus a size-bounded body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

type entry struct {
	data     *robotstxt.RobotsData
	fetched  time.Time
	sitemaps []string
}

// Cache holds parsed robots rules per domain with a TTL, backed by an
// optional durable store so restarts do not refetch every domain.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	durable kv.Store
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache constructs a Cache. durable may be nil; ttl <= 0 uses DefaultTTL.
func NewCache(fetcher Fetcher, ttl time.Duration, durable kv.Store, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		durable: durable,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// CanCrawl reports whether userAgent may fetch rawURL under the domain's
// robots rules.
func (c *Cache) CanCrawl(ctx context.Context, rawURL, userAgent string) bool {
	return c.Decide(ctx, rawURL, userAgent) != VerdictDisallowed
}

// Decide returns the tri-state robots verdict for rawURL.
func (c *Cache) Decide(ctx context.Context, rawURL, userAgent string) Verdict {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return VerdictUnknown
	}
	e := c.load(ctx, parsed)
	if e == nil || e.data == nil {
		return VerdictUnknown
	}
	group := e.data.FindGroup(userAgent)
	if group == nil {
		return VerdictAllowed
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if group.Test(path) {
		return VerdictAllowed
	}
	return VerdictDisallowed
}

// CrawlDelay returns the crawl-delay directive for domain, or zero.
func (c *Cache) CrawlDelay(ctx context.Context, domain, userAgent string) time.Duration {
	e := c.loadDomain(ctx, domain)
	if e == nil || e.data == nil {
		return 0
	}
	group := e.data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Sitemaps returns the sitemap URLs advertised by domain's robots.txt.
func (c *Cache) Sitemaps(ctx context.Context, domain string) []string {
	e := c.loadDomain(ctx, domain)
	if e == nil {
		return nil
	}
	out := make([]string, len(e.sitemaps))
	copy(out, e.sitemaps)
	return out
}

func (c *Cache) loadDomain(ctx context.Context, domain string) *entry {
	u, err := url.Parse("https://" + strings.TrimPrefix(domain, "https://"))
	if err != nil || u.Host == "" {
		return nil
	}
	return c.load(ctx, u)
}

// load returns the cached entry for the URL's host, fetching and parsing
// robots.txt on first access or after the TTL lapses.
func (c *Cache) load(ctx context.Context, parsed *url.URL) *entry {
	host := strings.ToLower(parsed.Host)

	c.mu.Lock()
	if e, ok := c.entries[host]; ok && time.Since(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	body, status := c.fetchBody(ctx, parsed, host)
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		c.logger.Warn("robots parse failed; allowing all",
			zap.String("host", host), zap.Error(err))
		data = nil
	}

	e := &entry{data: data, fetched: time.Now()}
	if data != nil {
		e.sitemaps = data.Sitemaps
	}
	c.mu.Lock()
	c.entries[host] = e
	c.mu.Unlock()
	return e
}

// fetchBody retrieves the robots body from the durable cache or network.
// Any failure yields a 404 status, which parses to "allow all".
func (c *Cache) fetchBody(ctx context.Context, parsed *url.URL, host string) ([]byte, int) {
	if c.durable != nil {
		if cached, err := c.durable.Get(ctx, kvKeyPrefix+host); err == nil {
			return cached, http.StatusOK
		}
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	if robotsURL.Scheme == "" {
		robotsURL.Scheme = "https"
	}
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	status, body, err := c.fetcher.Get(fetchCtx, robotsURL.String())
	if err != nil {
		c.logger.Debug("robots fetch failed; allowing all",
			zap.String("host", host), zap.Error(err))
		return nil, http.StatusNotFound
	}

	if c.durable != nil && status == http.StatusOK {
		if err := c.durable.Set(ctx, kvKeyPrefix+host, body, c.ttl); err != nil {
			c.logger.Debug("robots durable write failed", zap.String("host", host), zap.Error(err))
		}
	}
	return body, status
}
