package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeIsIdempotent(t *testing.T) {
	t.Parallel()

	content := []byte("the quick brown fox jumps over the lazy dog")
	first := Compute(content)
	second := Compute(content)

	require.Equal(t, first.SHA256, second.SHA256)
	require.Equal(t, first.SimHash, second.SimHash)
	require.Equal(t, first.MinHash, second.MinHash)
	require.Equal(t, 9, first.WordCount)
	require.Equal(t, len(content), first.ByteLength)
}

func TestComputeKnownSHA256(t *testing.T) {
	t.Parallel()

	fp := Compute([]byte("hello world"))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", fp.SHA256)
}

func TestSimilarityBounds(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, Similarity(0xdeadbeef, 0xdeadbeef))
	require.Equal(t, 0.0, Similarity(0, ^uint64(0)))
}

func TestSimilarContentHasCloseSimHash(t *testing.T) {
	t.Parallel()

	a := Compute([]byte("breaking news: markets rallied today as inflation cooled across the euro zone and investors cheered"))
	b := Compute([]byte("breaking news: markets rallied today as inflation cooled across the euro zone and investors rejoiced"))
	c := Compute([]byte("recipe: whisk three eggs with sugar, fold in flour, bake twenty minutes at medium heat"))

	require.Greater(t, Similarity(a.SimHash, b.SimHash), Similarity(a.SimHash, c.SimHash))
	require.GreaterOrEqual(t, Similarity(a.SimHash, b.SimHash), 0.8)
}

func TestJaccardEstimate(t *testing.T) {
	t.Parallel()

	a := Compute([]byte("alpha beta gamma delta epsilon"))
	same := Compute([]byte("alpha beta gamma delta epsilon"))
	other := Compute([]byte("one two three four five"))

	require.Equal(t, 1.0, JaccardEstimate(a.MinHash, same.MinHash))
	require.Less(t, JaccardEstimate(a.MinHash, other.MinHash), 0.2)
	require.Equal(t, 0.0, JaccardEstimate(nil, a.MinHash))
}

func TestEmptyContent(t *testing.T) {
	t.Parallel()

	fp := Compute(nil)
	require.Zero(t, fp.SimHash)
	require.Zero(t, fp.WordCount)
	require.Len(t, fp.MinHash, SignatureSize)
}
