package robots

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crawl-engine/internal/kv"
)

// fakeFetcher serves canned robots/sitemap bodies per URL.
type fakeFetcher struct {
	responses map[string]fakeResponse
	calls     map[string]int
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]fakeResponse{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string) (int, []byte, error) {
	f.calls[rawURL]++
	resp, ok := f.responses[rawURL]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	return resp.status, []byte(resp.body), resp.err
}

const exampleRobots = `User-agent: *
Disallow: /private/
Crawl-delay: 2

Sitemap: https://example.com/sitemap.xml
`

func TestCanCrawlHonorsDisallow(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.responses["https://example.com/robots.txt"] = fakeResponse{status: 200, body: exampleRobots}
	c := NewCache(f, time.Hour, nil, zap.NewNop())

	ctx := context.Background()
	require.True(t, c.CanCrawl(ctx, "https://example.com/public/page", "testbot"))
	require.False(t, c.CanCrawl(ctx, "https://example.com/private/secret", "testbot"))
}

func TestMissingRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	c := NewCache(newFakeFetcher(), time.Hour, nil, zap.NewNop())
	ctx := context.Background()
	require.True(t, c.CanCrawl(ctx, "https://nowhere.example.com/anything", "testbot"))
	require.True(t, c.CanCrawl(ctx, "https://nowhere.example.com/private/x", "testbot"))
}

func TestUnreachableRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.responses["https://down.example.com/robots.txt"] = fakeResponse{err: errors.New("connection refused")}
	c := NewCache(f, time.Hour, nil, zap.NewNop())

	require.True(t, c.CanCrawl(context.Background(), "https://down.example.com/", "testbot"))
}

func TestCrawlDelayAndSitemaps(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.responses["https://example.com/robots.txt"] = fakeResponse{status: 200, body: exampleRobots}
	c := NewCache(f, time.Hour, nil, zap.NewNop())

	ctx := context.Background()
	require.Equal(t, 2*time.Second, c.CrawlDelay(ctx, "example.com", "testbot"))
	require.Equal(t, []string{"https://example.com/sitemap.xml"}, c.Sitemaps(ctx, "example.com"))
}

func TestCacheAvoidsRefetchWithinTTL(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.responses["https://example.com/robots.txt"] = fakeResponse{status: 200, body: exampleRobots}
	c := NewCache(f, time.Hour, nil, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.CanCrawl(ctx, "https://example.com/page", "testbot")
	}
	require.Equal(t, 1, f.calls["https://example.com/robots.txt"])
}

func TestDurableStoreServesRobotsAcrossCaches(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	ctx := context.Background()

	f1 := newFakeFetcher()
	f1.responses["https://example.com/robots.txt"] = fakeResponse{status: 200, body: exampleRobots}
	first := NewCache(f1, time.Hour, store, zap.NewNop())
	require.False(t, first.CanCrawl(ctx, "https://example.com/private/x", "testbot"))

	// Second cache has no network copy; it must hit the durable store.
	second := NewCache(newFakeFetcher(), time.Hour, store, zap.NewNop())
	require.False(t, second.CanCrawl(ctx, "https://example.com/private/x", "testbot"))
}

const exampleSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc></url>
  <url><loc>https://example.com/b</loc></url>
</urlset>`

const exampleSitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
</sitemapindex>`

func TestParseSitemap(t *testing.T) {
	t.Parallel()

	pages, nested, err := ParseSitemap([]byte(exampleSitemap))
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, pages)
	require.Empty(t, nested)

	pages, nested, err = ParseSitemap([]byte(exampleSitemapIndex))
	require.NoError(t, err)
	require.Empty(t, pages)
	require.Equal(t, []string{"https://example.com/sitemap-posts.xml"}, nested)

	_, _, err = ParseSitemap([]byte("not xml"))
	require.Error(t, err)
}

func TestFetchSitemapURLsFollowsIndex(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.responses["https://example.com/sitemap.xml"] = fakeResponse{status: 200, body: exampleSitemapIndex}
	f.responses["https://example.com/sitemap-posts.xml"] = fakeResponse{status: 200, body: exampleSitemap}

	pages, err := FetchSitemapURLs(context.Background(), f, "https://example.com/sitemap.xml", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, pages)
}
