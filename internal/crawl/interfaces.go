package crawl

import (
	"context"
	"time"
)

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error)
}

// ResultStore persists per-URL crawl results.
type ResultStore interface {
	RecordResult(ctx context.Context, result Result) error
	ListResults(ctx context.Context, jobID string, offset, limit int) ([]Result, error)
	CountResults(ctx context.Context, jobID string) (int, error)
}

// BlobStore writes raw artifacts (HTML snapshots, screenshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes per-page completion events to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL over plain HTTP and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
