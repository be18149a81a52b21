// Package api exposes the HTTP interface for the crawl engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"crawl-engine/internal/config"
	"crawl-engine/internal/crawl"
	"crawl-engine/internal/frontier"
	"crawl-engine/internal/metrics"
	"crawl-engine/internal/monitor"
	"crawl-engine/internal/orchestrate"
	"crawl-engine/internal/robots"
	"crawl-engine/internal/worker"
)

const defaultResultsPageSize = 50

// Pipeline runs the single-URL crawl used by the enhanced endpoints.
type Pipeline interface {
	CrawlOne(ctx context.Context, req worker.PageRequest) crawl.Result
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router   chi.Router
	orch     *orchestrate.Orchestrator
	results  crawl.ResultStore
	robots   *robots.Cache
	monitor  *monitor.Monitor
	pipeline Pipeline
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. robotsCache and
// pipeline may be nil; the corresponding endpoints answer 503.
func NewServer(
	orch *orchestrate.Orchestrator,
	results crawl.ResultStore,
	robotsCache *robots.Cache,
	mon *monitor.Monitor,
	pipeline Pipeline,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		orch:     orch,
		results:  results,
		robots:   robotsCache,
		monitor:  mon,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}

	timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/stats", s.systemStats)
	r.Get("/stats/domain/{domain}", s.domainStats)

	r.Route("/crawl", func(r chi.Router) {
		r.Post("/", s.createCrawl)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
			r.Get("/results", s.listResults)
		})
	})
	r.Get("/jobs", s.listJobs)
	r.Post("/robots/check", s.robotsCheck)
	r.Route("/enhanced", func(r chi.Router) {
		r.Post("/crawl", s.enhancedCrawl)
		r.Post("/batch", s.enhancedBatch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type createCrawlRequest struct {
	StartURLs       []string `json:"start_urls"`
	AllowedDomains  []string `json:"allowed_domains"`
	MaxDepth        *int     `json:"max_depth"`
	MaxPages        *int     `json:"max_pages"`
	IncludeSitemaps bool     `json:"include_sitemaps"`
	FollowRobots    *bool    `json:"follow_robots"`
	RateLimitRPS    float64  `json:"rate_limit_rps"`
	RenderJS        bool     `json:"render_js"`
}

// toJobConfig fills defaults for absent fields. An explicit max_depth of
// zero is honored; only a missing field gets the configured default.
func (s *Server) toJobConfig(req createCrawlRequest) crawl.JobConfig {
	cfg := crawl.JobConfig{
		StartURLs:       req.StartURLs,
		AllowedDomains:  req.AllowedDomains,
		MaxDepth:        valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		MaxPages:        valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		IncludeSitemaps: req.IncludeSitemaps,
		FollowRobots:    valueOrDefault(req.FollowRobots, true),
		RateLimitRPS:    req.RateLimitRPS,
		RenderJS:        req.RenderJS,
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = s.cfg.Crawler.DefaultRateRPS
	}
	return cfg
}

func (s *Server) createCrawl(w http.ResponseWriter, r *http.Request) {
	var req createCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := s.orch.CreateJob(r.Context(), s.toJobConfig(req))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.orch.StartJob(r.Context(), job.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	job, err = s.orch.GetJob(r.Context(), job.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.Created,
		"stats":      job.Stats,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.orch.CancelJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	job, err := s.orch.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.orch.GetJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultResultsPageSize)
	results, err := s.results.ListResults(r.Context(), jobID, offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	total, err := s.results.CountResults(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  jobID,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
		"results": results,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := crawl.JobStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	jobs, err := s.orch.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) robotsCheck(w http.ResponseWriter, r *http.Request) {
	if s.robots == nil {
		s.writeError(w, http.StatusServiceUnavailable, "robots cache unavailable")
		return
	}
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	agent := r.URL.Query().Get("user_agent")
	if agent == "" {
		agent = s.cfg.Crawler.UserAgent
	}

	allowed := s.robots.CanCrawl(r.Context(), rawURL, agent)
	domain := frontier.DomainOf(rawURL)
	delay := s.robots.CrawlDelay(r.Context(), domain, agent)
	sitemaps := s.robots.Sitemaps(r.Context(), domain)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"allowed":     allowed,
		"crawl_delay": delay.Seconds(),
		"sitemaps":    sitemaps,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.monitor.CheckHealth(r.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *Server) systemStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) domainStats(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	stats, ok := s.monitor.Domain(domain)
	if !ok {
		s.writeError(w, http.StatusNotFound, "domain not crawled")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawl.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawl.ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawl.ErrJobTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
