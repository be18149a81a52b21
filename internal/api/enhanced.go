package api

import (
	"encoding/json"
	"net/http"

	"golang.org/x/sync/errgroup"

	"crawl-engine/internal/crawl"
	"crawl-engine/internal/worker"
)

const (
	maxBatchURLs         = 100
	batchConcurrency     = 8
	errPipelineUnavail   = "crawl pipeline unavailable"
	errBatchSizeExceeded = "at most 100 urls per batch"
)

type enhancedBatchRequest struct {
	URLs              []string `json:"urls"`
	RenderJS          bool     `json:"render_js"`
	CheckDedup        bool     `json:"check_dedup"`
	ExtractStructured bool     `json:"extract_structured"`
}

func (s *Server) enhancedCrawl(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, errPipelineUnavail)
		return
	}
	var req worker.PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.pipeline.CrawlOne(r.Context(), req))
}

func (s *Server) enhancedBatch(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, errPipelineUnavail)
		return
	}
	var req enhancedBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		s.writeError(w, http.StatusBadRequest, errBatchSizeExceeded)
		return
	}

	results := make([]crawl.Result, len(req.URLs))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchConcurrency)
	for i, rawURL := range req.URLs {
		g.Go(func() error {
			results[i] = s.pipeline.CrawlOne(ctx, worker.PageRequest{
				URL:               rawURL,
				RenderJS:          req.RenderJS,
				CheckDedup:        req.CheckDedup,
				ExtractStructured: req.ExtractStructured,
			})
			return nil
		})
	}
	// CrawlOne reports failures inside results, so Wait cannot error here.
	_ = g.Wait()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}
