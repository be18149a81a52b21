package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "crawl.pages", map[string]string{"url": "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, "mem-1", id)

	id, err = pub.Publish(context.Background(), "crawl.pages", map[string]string{"url": "https://example.com/b"})
	require.NoError(t, err)
	require.Equal(t, "mem-2", id)

	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "crawl.pages", events[0].Topic)
}

func TestEventsReturnsCopy(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "crawl.pages", "payload")
	require.NoError(t, err)

	got := pub.Events()
	got[0].Topic = "mutated"
	require.Equal(t, "crawl.pages", pub.Events()[0].Topic)
}
