// Package orchestrate owns crawl job lifecycle: creation, seeding,
// statistics, and the terminal-state transitions. Workers never mutate
// job state directly; they report through the orchestrator.
package orchestrate

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"crawl-engine/internal/crawl"
	"crawl-engine/internal/frontier"
	"crawl-engine/internal/metrics"
	"crawl-engine/internal/robots"
)

// Defaults fill unset job config fields at creation time.
type Defaults struct {
	MaxPages     int
	RateLimitRPS float64
}

// Options configures the orchestrator.
type Options struct {
	Defaults Defaults
	// FailureThreshold is the failed-URL count at which a running job
	// is declared failed. Zero disables the threshold.
	FailureThreshold int
	// SitemapURLLimit bounds how many sitemap URLs seed a single job.
	SitemapURLLimit int
}

// jobState is the in-memory side of a running job. The persisted Job
// row is updated from it on every report.
type jobState struct {
	cfg         crawl.JobConfig
	status      crawl.JobStatus
	stats       crawl.JobStats
	outstanding int
	errorText   string
}

// Orchestrator coordinates jobs, the frontier, and the stores.
type Orchestrator struct {
	jobs     crawl.JobStore
	frontier *frontier.Frontier
	limiter  *frontier.RateLimiter
	robots   *robots.Cache
	ids      crawl.IDGenerator
	clock    crawl.Clock
	logger   *zap.Logger
	opts     Options

	mu     sync.Mutex
	active map[string]*jobState
}

// New constructs an Orchestrator.
func New(
	jobs crawl.JobStore,
	front *frontier.Frontier,
	limiter *frontier.RateLimiter,
	robotsCache *robots.Cache,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.SitemapURLLimit <= 0 {
		opts.SitemapURLLimit = 1000
	}
	return &Orchestrator{
		jobs:     jobs,
		frontier: front,
		limiter:  limiter,
		robots:   robotsCache,
		ids:      ids,
		clock:    clock,
		logger:   logger,
		opts:     opts,
		active:   make(map[string]*jobState),
	}
}

// CreateJob validates the config, fills defaults, and persists a
// pending job.
func (o *Orchestrator) CreateJob(ctx context.Context, cfg crawl.JobConfig) (crawl.Job, error) {
	cfg = o.applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return crawl.Job{}, err
	}

	id, err := o.ids.NewID()
	if err != nil {
		return crawl.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	job := crawl.Job{
		ID:      id,
		Config:  cfg,
		Status:  crawl.JobStatusPending,
		Created: o.clock.Now(),
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return crawl.Job{}, fmt.Errorf("persist job: %w", err)
	}
	metrics.ObserveJob(string(job.Status))
	return job, nil
}

// applyDefaults fills unset fields. MaxDepth is left alone: zero is a
// meaningful value (crawl only the start URLs), so its default is
// applied at the API boundary where absent and zero can be told apart.
func (o *Orchestrator) applyDefaults(cfg crawl.JobConfig) crawl.JobConfig {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = o.opts.Defaults.MaxPages
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = o.opts.Defaults.RateLimitRPS
	}
	return cfg
}

func validateConfig(cfg crawl.JobConfig) error {
	if len(cfg.StartURLs) == 0 {
		return fmt.Errorf("%w: start_urls must not be empty", crawl.ErrInvalidConfig)
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must not be negative", crawl.ErrInvalidConfig)
	}
	for _, raw := range cfg.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: invalid start url %q", crawl.ErrInvalidConfig, raw)
		}
	}
	return nil
}

// StartJob transitions a pending job to running and seeds the frontier.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return crawl.ErrJobTerminal
	}
	if job.Status == crawl.JobStatusRunning {
		return nil
	}

	now := o.clock.Now()
	job.Status = crawl.JobStatusRunning
	job.Started = &now
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist running job: %w", err)
	}
	metrics.ObserveJob(string(job.Status))

	seeds := job.Config.StartURLs
	if job.Config.IncludeSitemaps {
		seeds = append(seeds, o.sitemapSeeds(ctx, job.Config)...)
	}

	// A worker may dequeue a seed the instant it lands in the frontier,
	// so the job must be claimable before the first Enqueue. Holding the
	// lock across seeding keeps Claim/Release/Report out until the
	// outstanding count covers every seed.
	state := &jobState{cfg: job.Config, status: crawl.JobStatusRunning}
	o.mu.Lock()
	o.active[jobID] = state
	for _, raw := range seeds {
		domain := frontier.DomainOf(raw)
		o.limiter.Register(domain, job.Config.RateLimitRPS)
		if o.frontier.Enqueue(frontier.Item{
			JobID:  jobID,
			URL:    raw,
			Domain: domain,
			Depth:  0,
		}, job.Config.MaxDepth) {
			state.outstanding++
			state.stats.Discovered++
		}
	}
	seeded := state.outstanding
	o.mu.Unlock()

	// A job whose every seed was already seen has nothing to do.
	if seeded == 0 {
		return o.finalize(ctx, jobID)
	}
	return nil
}

// sitemapSeeds collects sitemap URLs for each distinct start domain.
func (o *Orchestrator) sitemapSeeds(ctx context.Context, cfg crawl.JobConfig) []string {
	if o.robots == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, raw := range cfg.StartURLs {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		if seen[origin] {
			continue
		}
		seen[origin] = true

		urls, err := o.robots.SitemapURLs(ctx, origin, o.opts.SitemapURLLimit-len(out))
		if err != nil {
			o.logger.Warn("sitemap discovery failed",
				zap.String("origin", origin),
				zap.Error(err))
			continue
		}
		out = append(out, urls...)
		if len(out) >= o.opts.SitemapURLLimit {
			break
		}
	}
	return out
}

// CancelJob marks a job cancelled. Cancelling an already-terminal job
// is a no-op; an unknown job returns ErrJobNotFound.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	now := o.clock.Now()
	job.Status = crawl.JobStatusCancelled
	job.Completed = &now

	o.mu.Lock()
	if state, ok := o.active[jobID]; ok {
		state.status = crawl.JobStatusCancelled
		job.Stats = state.stats
	}
	o.mu.Unlock()

	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist cancelled job: %w", err)
	}
	metrics.ObserveJob(string(job.Status))
	return nil
}

// Claim reports whether a worker may process a URL for the job, and
// returns the job config when it may. A claim refused because the job
// is terminal or page-capped still consumes the outstanding slot via
// Release.
func (o *Orchestrator) Claim(jobID string) (crawl.JobConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.active[jobID]
	if !ok || state.status != crawl.JobStatusRunning {
		return crawl.JobConfig{}, false
	}
	if state.cfg.MaxPages > 0 && state.stats.Processed >= state.cfg.MaxPages {
		return crawl.JobConfig{}, false
	}
	return state.cfg, true
}

// Release drops an unprocessed frontier item claimed for the job,
// finalizing the job if it was the last outstanding item.
func (o *Orchestrator) Release(ctx context.Context, jobID string) {
	o.mu.Lock()
	state, ok := o.active[jobID]
	var done bool
	if ok {
		state.outstanding--
		done = state.outstanding <= 0
	}
	o.mu.Unlock()

	if done {
		if err := o.finalize(ctx, jobID); err != nil {
			o.logger.Error("finalize job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// Report records a processed URL's outcome, folds it into job stats,
// and accounts for newly enqueued child URLs.
func (o *Orchestrator) Report(ctx context.Context, jobID string, result crawl.Result, enqueued int) {
	o.mu.Lock()
	state, ok := o.active[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}

	state.stats.Processed++
	state.stats.Discovered += enqueued
	switch {
	case result.Skipped:
		state.stats.Skipped++
	case result.ErrorText != "":
		state.stats.Failed++
	default:
		state.stats.Succeeded++
	}
	if result.Duplicate != nil && result.Duplicate.IsDuplicate {
		state.stats.Duplicates++
	}

	if o.opts.FailureThreshold > 0 && state.stats.Failed >= o.opts.FailureThreshold && state.status == crawl.JobStatusRunning {
		state.status = crawl.JobStatusFailed
		state.errorText = fmt.Sprintf("failure threshold reached: %d failed URLs", state.stats.Failed)
	}

	state.outstanding += enqueued - 1
	done := state.outstanding <= 0
	stats := state.stats
	o.mu.Unlock()

	o.persistStats(ctx, jobID, stats)
	if done {
		if err := o.finalize(ctx, jobID); err != nil {
			o.logger.Error("finalize job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) persistStats(ctx context.Context, jobID string, stats crawl.JobStats) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load job for stats update failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		return
	}
	job.Stats = stats
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		o.logger.Error("persist job stats failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// finalize moves a drained job to its terminal state and drops the
// in-memory tracking.
func (o *Orchestrator) finalize(ctx context.Context, jobID string) error {
	o.mu.Lock()
	state, ok := o.active[jobID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.active, jobID)
	final := state.status
	if final == crawl.JobStatusRunning {
		final = crawl.JobStatusCompleted
	}
	stats := state.stats
	errorText := state.errorText
	o.mu.Unlock()

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		// Cancel already persisted the terminal row; keep its status.
		return nil
	}

	now := o.clock.Now()
	job.Status = final
	job.Stats = stats
	job.Completed = &now
	if errorText != "" {
		job.ErrorText = errorText
	}
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final job: %w", err)
	}
	metrics.ObserveJob(string(final))
	o.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(final)),
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed))
	return nil
}

// GetJob returns the persisted job, overlaying live stats for active jobs.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawl.Job{}, err
	}
	o.mu.Lock()
	if state, ok := o.active[jobID]; ok {
		job.Stats = state.stats
	}
	o.mu.Unlock()
	return job, nil
}

// ListJobs proxies the job store listing.
func (o *Orchestrator) ListJobs(ctx context.Context, status crawl.JobStatus, limit int) ([]crawl.Job, error) {
	return o.jobs.ListJobs(ctx, status, limit)
}

// ActiveJobs reports how many jobs are currently tracked in memory.
func (o *Orchestrator) ActiveJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}
