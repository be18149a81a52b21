package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crawl-engine/internal/crawl"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobStore()

	job := crawl.Job{ID: "j1", Status: crawl.JobStatusPending, Created: time.Now()}
	require.NoError(t, s.CreateJob(ctx, job))
	require.Error(t, s.CreateJob(ctx, job), "duplicate IDs are rejected")

	job.Status = crawl.JobStatusRunning
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusRunning, got.Status)

	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawl.ErrJobNotFound)
	require.ErrorIs(t, s.UpdateJob(ctx, crawl.Job{ID: "missing"}), crawl.ErrJobNotFound)
}

func TestJobStoreListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobStore()
	base := time.Now()

	require.NoError(t, s.CreateJob(ctx, crawl.Job{ID: "a", Status: crawl.JobStatusCompleted, Created: base.Add(-2 * time.Hour)}))
	require.NoError(t, s.CreateJob(ctx, crawl.Job{ID: "b", Status: crawl.JobStatusRunning, Created: base.Add(-time.Hour)}))
	require.NoError(t, s.CreateJob(ctx, crawl.Job{ID: "c", Status: crawl.JobStatusRunning, Created: base}))

	running, err := s.ListJobs(ctx, crawl.JobStatusRunning, 0)
	require.NoError(t, err)
	require.Len(t, running, 2)
	require.Equal(t, "c", running[0].ID, "newest first")

	all, err := s.ListJobs(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestResultStorePagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewResultStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordResult(ctx, crawl.Result{JobID: "j1", URL: "https://example.com/" + string(rune('a'+i))}))
	}

	count, err := s.CountResults(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 5, count)

	page, err := s.ListResults(ctx, "j1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "https://example.com/c", page[0].URL)

	tail, err := s.ListResults(ctx, "j1", 4, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)

	empty, err := s.ListResults(ctx, "j1", 99, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "jobs/j1/page.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "mem://jobs/j1/page.html", uri)

	data, ok := s.GetObject("jobs/j1/page.html")
	require.True(t, ok)
	require.Equal(t, "<html/>", string(data))

	_, err = s.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}
