// Package crawl defines the core types and collaborator interfaces shared by
// the crawling engine: jobs, per-URL results, and the contracts for stores,
// publishers, and fetchers.
package crawl

import (
	"net/http"
	"time"

	"crawl-engine/internal/detect"
	"crawl-engine/internal/extract"
	"crawl-engine/internal/fingerprint"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Completed, failed, and
// cancelled are terminal.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobConfig captures per-job configuration requested by the client.
// It is immutable once the job starts.
type JobConfig struct {
	StartURLs       []string `json:"start_urls"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	MaxDepth        int      `json:"max_depth"`
	MaxPages        int      `json:"max_pages,omitempty"`
	IncludeSitemaps bool     `json:"include_sitemaps"`
	FollowRobots    bool     `json:"follow_robots"`
	RateLimitRPS    float64  `json:"rate_limit_rps"`
	RenderJS        bool     `json:"render_js,omitempty"`
}

// JobStats tracks monotonic per-job counters. Updated only through the
// orchestrator so concurrent workers never race on them.
type JobStats struct {
	Discovered int `json:"discovered"`
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID        string     `json:"id"`
	Config    JobConfig  `json:"config"`
	Status    JobStatus  `json:"status"`
	Created   time.Time  `json:"created_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Completed *time.Time `json:"completed_at,omitempty"`
	Stats     JobStats   `json:"stats"`
	ErrorText string     `json:"error,omitempty"`
}

// StageTimings breaks down where a URL spent its pipeline time.
type StageTimings struct {
	FetchMs   int64 `json:"fetch_ms"`
	RenderMs  int64 `json:"render_ms,omitempty"`
	DetectMs  int64 `json:"detect_ms"`
	ExtractMs int64 `json:"extract_ms"`
	DedupMs   int64 `json:"dedup_ms"`
}

// Result is the per-URL outcome. Written once by the worker that processed
// the URL, read many times afterwards.
type Result struct {
	JobID        string                   `json:"job_id"`
	URL          string                   `json:"url"`
	FinalURL     string                   `json:"final_url"`
	Depth        int                      `json:"depth"`
	StatusCode   int                      `json:"status_code"`
	Title        string                   `json:"title,omitempty"`
	Links        []string                 `json:"links,omitempty"`
	ContentText  string                   `json:"content_text,omitempty"`
	ByteLength   int                      `json:"byte_length"`
	UsedRenderer bool                     `json:"used_renderer"`
	BlobURI      string                   `json:"blob_uri,omitempty"`
	Fingerprint  *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Detection    *detect.Detection        `json:"detection,omitempty"`
	Structured   *extract.StructuredData  `json:"structured,omitempty"`
	Duplicate    *DuplicateInfo           `json:"duplicate,omitempty"`
	Skipped      bool                     `json:"skipped,omitempty"`
	SkipReason   string                   `json:"skip_reason,omitempty"`
	ErrorText    string                   `json:"error,omitempty"`
	ErrorTag     string                   `json:"error_tag,omitempty"`
	FetchedAt    time.Time                `json:"fetched_at"`
	Timings      StageTimings             `json:"timings"`
}

// Succeeded reports whether the URL yielded usable content.
func (r Result) Succeeded() bool {
	return r.ErrorText == "" && !r.Skipped
}

// DuplicateInfo summarizes the dedup classification attached to a result.
type DuplicateInfo struct {
	IsDuplicate bool    `json:"is_duplicate"`
	Type        string  `json:"type,omitempty"`
	Action      string  `json:"action,omitempty"`
	OriginalURL string  `json:"original_url,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL without rendering.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
}

// FetchResponse is the plain-HTTP fetch outcome.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
