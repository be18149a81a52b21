// Package worker implements the crawl pipeline execution loop: dequeue a
// frontier URL, fetch or render it, run detection, extraction, and dedup,
// persist the result, and feed discovered links back into the frontier.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"crawl-engine/internal/crawl"
	"crawl-engine/internal/dedup"
	"crawl-engine/internal/detect"
	"crawl-engine/internal/extract"
	"crawl-engine/internal/fingerprint"
	"crawl-engine/internal/frontier"
	"crawl-engine/internal/metrics"
	"crawl-engine/internal/monitor"
	"crawl-engine/internal/render"
	"crawl-engine/internal/robots"
)

// Error tags recorded on failed results.
const (
	tagNetworkError = "network_error"
	tagHTTPError    = "http_error"
)

// skipReasonRobots marks URLs dropped by a robots.txt disallow rule.
const skipReasonRobots = "robots_disallowed"

// Coordinator is the orchestrator surface the worker drives job
// accounting through.
type Coordinator interface {
	Claim(jobID string) (crawl.JobConfig, bool)
	Release(ctx context.Context, jobID string)
	Report(ctx context.Context, jobID string, result crawl.Result, enqueued int)
}

// Renderer renders a page in a headless browser.
type Renderer interface {
	Render(ctx context.Context, url string, opts render.Options) (*render.Result, error)
}

// Recorder receives per-page aggregation events.
type Recorder interface {
	Record(ev monitor.PageEvent)
}

// Config controls Worker behavior.
type Config struct {
	UserAgent     string
	BlobPrefix    string
	Topic         string
	RenderTimeout time.Duration
	// MaxLinksPerPage caps link extraction per document. Zero means
	// the default of 200.
	MaxLinksPerPage int
}

// Worker consumes frontier items and executes the crawl pipeline.
type Worker struct {
	frontier  *frontier.Frontier
	limiter   *frontier.RateLimiter
	coord     Coordinator
	robots    *robots.Cache
	fetcher   crawl.Fetcher
	renderer  Renderer
	detector  *detect.Detector
	extractor *extract.Extractor
	deduper   *dedup.Checker
	promote   *promoteHeuristic
	results   crawl.ResultStore
	blobs     crawl.BlobStore
	publisher crawl.Publisher
	recorder  Recorder
	clock     crawl.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. robotsCache, renderer, blobs, and publisher may
// be nil; the corresponding stage is skipped.
func New(
	front *frontier.Frontier,
	limiter *frontier.RateLimiter,
	coord Coordinator,
	robotsCache *robots.Cache,
	fetcher crawl.Fetcher,
	renderer Renderer,
	deduper *dedup.Checker,
	results crawl.ResultStore,
	blobs crawl.BlobStore,
	publisher crawl.Publisher,
	recorder Recorder,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = 200
	}
	return &Worker{
		frontier:  front,
		limiter:   limiter,
		coord:     coord,
		robots:    robotsCache,
		fetcher:   fetcher,
		renderer:  renderer,
		detector:  detect.New(),
		extractor: extract.New(),
		deduper:   deduper,
		promote:   newPromoteHeuristic(),
		results:   results,
		blobs:     blobs,
		publisher: publisher,
		recorder:  recorder,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming frontier items until the context finishes or the
// frontier is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		item, err := w.frontier.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, frontier.ErrClosed) {
				return
			}
			w.logger.Error("frontier dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, item)
	}
}

// process runs the whole pipeline for one URL. Every stage error is caught
// here; a failing URL is recorded and never stops the worker.
func (w *Worker) process(ctx context.Context, item frontier.Item) {
	cfg, ok := w.coord.Claim(item.JobID)
	if !ok {
		w.coord.Release(ctx, item.JobID)
		return
	}

	result := crawl.Result{
		JobID:     item.JobID,
		URL:       item.URL,
		FinalURL:  item.URL,
		Depth:     item.Depth,
		FetchedAt: w.clock.Now(),
	}

	if cfg.FollowRobots && w.robots != nil && !w.robots.CanCrawl(ctx, item.URL, w.cfg.UserAgent) {
		result.Skipped = true
		result.SkipReason = skipReasonRobots
		w.finish(ctx, item, result, 0)
		return
	}

	body := w.crawlPage(ctx, cfg, item, &result)
	var enqueued int
	if result.ErrorText == "" {
		enqueued = w.persist(ctx, cfg, item, &result, body)
	}
	w.finish(ctx, item, result, enqueued)
}

// crawlPage fetches or renders the URL and fills the transport-level result
// fields. It returns the page body, or nil on failure.
func (w *Worker) crawlPage(ctx context.Context, cfg crawl.JobConfig, item frontier.Item, result *crawl.Result) []byte {
	if cfg.RenderJS && w.renderer != nil {
		return w.renderPage(ctx, item, result)
	}

	start := w.clock.Now()
	resp, err := w.fetcher.Fetch(ctx, crawl.FetchRequest{
		URL:       item.URL,
		UserAgent: w.cfg.UserAgent,
	})
	result.Timings.FetchMs = w.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		result.ErrorText = err.Error()
		result.ErrorTag = tagNetworkError
		return nil
	}

	result.FinalURL = resp.FinalURL
	result.StatusCode = resp.StatusCode
	result.ByteLength = len(resp.Body)
	result.Detection = w.detect(resp.Body, resp.FinalURL, resp.Headers, result)

	if resp.StatusCode >= 400 {
		result.ErrorText = fmt.Sprintf("http status %d", resp.StatusCode)
		result.ErrorTag = tagHTTPError
		return nil
	}

	// Script-only shells are escalated to the renderer; a failed escalation
	// keeps the plain response.
	if w.renderer != nil && result.Detection.Structure == detect.StructureHTML && w.promote.NeedsRender(resp.Body) {
		if body := w.promotePage(ctx, item, result); body != nil {
			return body
		}
	}
	return resp.Body
}

func (w *Worker) promotePage(ctx context.Context, item frontier.Item, result *crawl.Result) []byte {
	res, err := w.renderer.Render(ctx, item.URL, render.Options{Timeout: w.cfg.RenderTimeout})
	if err != nil {
		w.logger.Warn("render promotion failed",
			zap.String("job_id", item.JobID),
			zap.String("url", item.URL),
			zap.Error(err))
		return nil
	}

	result.UsedRenderer = true
	result.Timings.RenderMs = res.Duration.Milliseconds()
	result.FinalURL = res.FinalURL
	if res.StatusCode != 0 {
		result.StatusCode = res.StatusCode
	}
	result.Title = res.Title
	result.ContentText = res.Text
	result.ByteLength = len(res.HTML)
	return []byte(res.HTML)
}

func (w *Worker) renderPage(ctx context.Context, item frontier.Item, result *crawl.Result) []byte {
	res, err := w.renderer.Render(ctx, item.URL, render.Options{
		Timeout: w.cfg.RenderTimeout,
	})
	result.UsedRenderer = true
	if res != nil {
		result.Timings.RenderMs = res.Duration.Milliseconds()
	}
	if err != nil {
		result.ErrorText = err.Error()
		if res != nil {
			result.ErrorTag = res.ErrorTag
		}
		return nil
	}

	result.FinalURL = res.FinalURL
	result.StatusCode = res.StatusCode
	result.Title = res.Title
	result.ContentText = res.Text
	result.ByteLength = len(res.HTML)

	body := []byte(res.HTML)
	result.Detection = w.detect(body, res.FinalURL, nil, result)
	return body
}

func (w *Worker) detect(body []byte, finalURL string, headers map[string][]string, result *crawl.Result) *detect.Detection {
	start := w.clock.Now()
	det := w.detector.Detect(body, finalURL, headers)
	result.Timings.DetectMs = w.clock.Now().Sub(start).Milliseconds()
	return &det
}

// persist runs extraction, dedup, blob storage, and publication for a
// successfully crawled page, then enqueues its links. Returns how many
// links were actually enqueued.
func (w *Worker) persist(ctx context.Context, cfg crawl.JobConfig, item frontier.Item, result *crawl.Result, body []byte) int {
	var canonical string
	var page string
	isHTML := result.Detection != nil && result.Detection.Structure == detect.StructureHTML
	if isHTML {
		// Extraction wants UTF-8; fingerprinting and blob storage keep
		// the bytes as fetched.
		page = string(detect.ToUTF8(body, result.Detection.Encoding))
		start := w.clock.Now()
		structured, err := w.extractor.ExtractAll(page, result.FinalURL)
		result.Timings.ExtractMs = w.clock.Now().Sub(start).Milliseconds()
		if err != nil {
			w.logger.Warn("extraction failed",
				zap.String("job_id", item.JobID),
				zap.String("url", item.URL),
				zap.Error(err))
		} else {
			result.Structured = &structured
			canonical = structured.CanonicalURL
			if result.Title == "" {
				result.Title = structured.Title
			}
		}
	}

	fp := fingerprint.Compute(body)
	result.Fingerprint = &fp

	start := w.clock.Now()
	dres := w.deduper.Check(ctx, body, result.FinalURL, canonical)
	result.Timings.DedupMs = w.clock.Now().Sub(start).Milliseconds()
	result.Duplicate = &crawl.DuplicateInfo{
		IsDuplicate: dres.IsDuplicate,
		Type:        string(dres.Type),
		Action:      string(dres.Action),
		OriginalURL: dres.OriginalURL,
		Similarity:  dres.Similarity,
	}
	if dres.IsDuplicate {
		metrics.ObserveDedup(string(dres.Type))
	}
	if dres.Action == dedup.ActionReject {
		return 0
	}

	if w.blobs != nil {
		uri, err := w.blobs.PutObject(ctx, w.blobPath(item.JobID, fp.SHA256), blobContentType(result.Detection), body)
		if err != nil {
			w.logger.Error("blob store failed",
				zap.String("job_id", item.JobID),
				zap.String("url", item.URL),
				zap.Error(err))
		} else {
			result.BlobURI = uri
		}
	}

	if !isHTML {
		return 0
	}
	links, err := extract.Links(page, result.FinalURL, w.cfg.MaxLinksPerPage)
	if err != nil {
		w.logger.Warn("link extraction failed",
			zap.String("url", item.URL),
			zap.Error(err))
		return 0
	}
	result.Links = links
	return w.enqueueLinks(cfg, item, links)
}

// enqueueLinks feeds in-scope links back into the frontier at depth+1.
func (w *Worker) enqueueLinks(cfg crawl.JobConfig, item frontier.Item, links []string) int {
	if item.Depth >= cfg.MaxDepth {
		return 0
	}
	allowed := allowedDomains(cfg)

	var enqueued int
	for _, link := range links {
		domain := frontier.DomainOf(link)
		if domain == "" || !domainAllowed(domain, allowed) {
			continue
		}
		w.limiter.Register(domain, cfg.RateLimitRPS)
		if w.frontier.Enqueue(frontier.Item{
			JobID:  item.JobID,
			URL:    link,
			Domain: domain,
			Depth:  item.Depth + 1,
		}, cfg.MaxDepth) {
			enqueued++
		}
	}
	return enqueued
}

// finish records the result, publishes the page event, reports to the
// orchestrator, and emits metrics. It never fails the pipeline.
func (w *Worker) finish(ctx context.Context, item frontier.Item, result crawl.Result, enqueued int) {
	if err := w.results.RecordResult(ctx, result); err != nil {
		w.logger.Error("record result failed",
			zap.String("job_id", item.JobID),
			zap.String("url", item.URL),
			zap.Error(err))
	}
	w.publish(ctx, result)
	w.coord.Report(ctx, item.JobID, result, enqueued)

	outcome := monitor.OutcomeSuccess
	switch {
	case result.Skipped:
		outcome = monitor.OutcomeSkipped
	case result.ErrorText != "":
		outcome = monitor.OutcomeFailed
	}
	metrics.ObservePage(metrics.SanitizeSite(item.Domain), string(outcome), result.ByteLength)
	if w.recorder != nil {
		w.recorder.Record(monitor.PageEvent{
			Domain:    item.Domain,
			Outcome:   outcome,
			Bytes:     result.ByteLength,
			Duration:  time.Duration(result.Timings.FetchMs+result.Timings.RenderMs) * time.Millisecond,
			Rendered:  result.UsedRenderer,
			Duplicate: result.Duplicate != nil && result.Duplicate.IsDuplicate,
		})
	}

	w.logger.Debug("page processed",
		zap.String("job_id", item.JobID),
		zap.String("url", item.URL),
		zap.String("outcome", string(outcome)),
		zap.Int("enqueued", enqueued))
}

func (w *Worker) publish(ctx context.Context, result crawl.Result) {
	if w.publisher == nil || w.cfg.Topic == "" || !result.Succeeded() {
		return
	}
	payload := map[string]any{
		"job_id":    result.JobID,
		"url":       result.URL,
		"final_url": result.FinalURL,
		"blob_uri":  result.BlobURI,
		"status":    result.StatusCode,
		"rendered":  result.UsedRenderer,
		"timestamp": result.FetchedAt.Format(time.RFC3339),
	}
	if result.Fingerprint != nil {
		payload["hash"] = result.Fingerprint.SHA256
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish page event failed",
			zap.String("job_id", result.JobID),
			zap.String("url", result.URL),
			zap.Error(err))
	}
}

func (w *Worker) blobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func blobContentType(det *detect.Detection) string {
	if det != nil && det.MimeType != "" {
		return det.MimeType
	}
	return "text/html; charset=utf-8"
}

// allowedDomains resolves the job's domain scope: the explicit allowlist
// when set, otherwise the start URLs' own domains.
func allowedDomains(cfg crawl.JobConfig) []string {
	if len(cfg.AllowedDomains) > 0 {
		return cfg.AllowedDomains
	}
	var domains []string
	for _, raw := range cfg.StartURLs {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			domains = append(domains, u.Hostname())
		}
	}
	return domains
}

// domainAllowed matches the domain itself and its subdomains.
func domainAllowed(domain string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.TrimPrefix(strings.ToLower(a), "www.")
		d := strings.TrimPrefix(strings.ToLower(domain), "www.")
		if d == a || strings.HasSuffix(d, "."+a) {
			return true
		}
	}
	return false
}
