package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crawl-engine/internal/fingerprint"
	"crawl-engine/internal/kv"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	return New(DefaultPolicy(), kv.NewMemoryStore(), zap.NewNop())
}

func TestCheckExactDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestChecker(t)
	content := []byte("<html><body>identical article body with plenty of words to hash</body></html>")

	first := c.Check(ctx, content, "https://a.example.com/post", "")
	require.False(t, first.IsDuplicate)
	require.Equal(t, ActionAccept, first.Action)

	second := c.Check(ctx, content, "https://b.example.com/mirror", "")
	require.True(t, second.IsDuplicate)
	require.Equal(t, TypeExact, second.Type)
	require.Equal(t, ActionReject, second.Action)
	require.Equal(t, "https://a.example.com/post", second.OriginalURL)
	require.Equal(t, 1.0, second.Similarity)
}

func TestCheckNearDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	base := strings.Repeat("markets rallied today as inflation cooled across the euro zone and investors cheered the outcome. ", 5)
	tweaked := strings.Replace(base, "cheered", "welcomed", 1)

	sim := fingerprint.Similarity(
		fingerprint.Compute([]byte(base)).SimHash,
		fingerprint.Compute([]byte(tweaked)).SimHash,
	)
	require.GreaterOrEqual(t, sim, 0.70, "one changed word must stay highly similar")

	policy := DefaultPolicy()
	policy.NearDuplicateThreshold = 0.70
	// The pair's similarity may reach the default exact band; pin the
	// thresholds around it so this test exercises the near-dup band.
	policy.ExactThreshold = sim + 0.001
	c := New(policy, kv.NewMemoryStore(), zap.NewNop())

	first := c.Check(ctx, []byte(base), "https://news.example.com/a", "")
	require.False(t, first.IsDuplicate)

	second := c.Check(ctx, []byte(tweaked), "https://news.example.com/b", "")
	require.True(t, second.IsDuplicate)
	require.Equal(t, TypeNearDuplicate, second.Type)
	require.Equal(t, ActionReject, second.Action)
	require.InDelta(t, sim, second.Similarity, 1e-9)
	require.Equal(t, "https://news.example.com/a", second.OriginalURL)
}

func TestCheckExactBandBySimilarity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	base := strings.Repeat("quarterly earnings beat expectations across the retail sector while guidance held firm. ", 5)
	tweaked := strings.Replace(base, "firm", "steady", 1)

	sim := fingerprint.Similarity(
		fingerprint.Compute([]byte(base)).SimHash,
		fingerprint.Compute([]byte(tweaked)).SimHash,
	)
	require.GreaterOrEqual(t, sim, 0.70)

	policy := DefaultPolicy()
	policy.ExactThreshold = sim - 0.001
	c := New(policy, kv.NewMemoryStore(), zap.NewNop())

	require.False(t, c.Check(ctx, []byte(base), "https://news.example.com/a", "").IsDuplicate)

	res := c.Check(ctx, []byte(tweaked), "https://news.example.com/b", "")
	require.True(t, res.IsDuplicate)
	require.Equal(t, TypeExact, res.Type,
		"similarity at or above the exact threshold lands in the exact band despite differing byte hashes")
	require.Equal(t, ActionReject, res.Action)
	require.Equal(t, "https://news.example.com/a", res.OriginalURL)
	require.InDelta(t, sim, res.Similarity, 1e-9)
}

func TestCheckCanonicalRedirect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestChecker(t)

	content := []byte("product page for the deluxe widget with full specifications and reviews")
	first := c.Check(ctx, content, "https://shop.example.com/widget", "https://shop.example.com/widget")
	require.False(t, first.IsDuplicate)

	second := c.Check(ctx, []byte("tracking variant body"), "https://shop.example.com/widget?utm=mail",
		"https://shop.example.com/widget")
	require.True(t, second.IsDuplicate)
	require.Equal(t, TypeCanonical, second.Type)
	require.Equal(t, ActionRedirect, second.Action)
	require.Equal(t, "https://shop.example.com/widget", second.OriginalURL)

	cluster := c.Cluster("https://shop.example.com/widget")
	require.Contains(t, cluster, "https://shop.example.com/widget?utm=mail")
}

func TestCheckUnrelatedContentIsUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestChecker(t)

	c.Check(ctx, []byte("an essay about distributed consensus protocols and quorum intersection"), "https://x.test/1", "")
	res := c.Check(ctx, []byte("a recipe for sourdough bread with rye flour and long fermentation"), "https://x.test/2", "")
	require.False(t, res.IsDuplicate)
	require.Equal(t, 2, c.Size())
}

func TestCheckSurvivesFailingDurableStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(DefaultPolicy(), failingStore{}, zap.NewNop())

	res := c.Check(ctx, []byte("content hashed while the cache is down"), "https://x.test/1", "")
	require.False(t, res.IsDuplicate)
	require.Equal(t, ActionAccept, res.Action)
}

func TestDurableExactSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shared := kv.NewMemoryStore()
	content := []byte("body persisted across process restarts via the durable cache")

	first := New(DefaultPolicy(), shared, zap.NewNop())
	require.False(t, first.Check(ctx, content, "https://x.test/original", "").IsDuplicate)

	// Fresh checker, empty memory index, same durable store.
	second := New(DefaultPolicy(), shared, zap.NewNop())
	res := second.Check(ctx, content, "https://x.test/copy", "")
	require.True(t, res.IsDuplicate)
	require.Equal(t, TypeExact, res.Type)
	require.Equal(t, "https://x.test/original", res.OriginalURL)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("cache down") }
func (failingStore) Close() error                         { return nil }
