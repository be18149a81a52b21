package worker

import (
	"context"

	"go.uber.org/zap"

	"crawl-engine/internal/crawl"
	"crawl-engine/internal/detect"
	"crawl-engine/internal/extract"
	"crawl-engine/internal/fingerprint"
	"crawl-engine/internal/frontier"
)

// PageRequest drives a one-off pipeline run outside any job, with each
// optional stage toggled explicitly.
type PageRequest struct {
	URL               string `json:"url"`
	RenderJS          bool   `json:"render_js"`
	CheckDedup        bool   `json:"check_dedup"`
	ExtractStructured bool   `json:"extract_structured"`
}

// CrawlOne runs the fetch/render, detection, extraction, and dedup stages
// for a single URL and returns the result without persisting it or touching
// the frontier. Failures are reported inside the result, never as an error.
func (w *Worker) CrawlOne(ctx context.Context, req PageRequest) crawl.Result {
	result := crawl.Result{
		URL:       req.URL,
		FinalURL:  req.URL,
		FetchedAt: w.clock.Now(),
	}
	item := frontier.Item{URL: req.URL, Domain: frontier.DomainOf(req.URL)}
	cfg := crawl.JobConfig{RenderJS: req.RenderJS}

	body := w.crawlPage(ctx, cfg, item, &result)
	if result.ErrorText != "" || body == nil {
		return result
	}

	isHTML := result.Detection != nil && result.Detection.Structure == detect.StructureHTML
	var canonical string
	var page string
	if isHTML {
		page = string(detect.ToUTF8(body, result.Detection.Encoding))
	}
	if req.ExtractStructured && isHTML {
		structured, err := w.extractor.ExtractAll(page, result.FinalURL)
		if err != nil {
			w.logger.Warn("extraction failed", zap.String("url", req.URL), zap.Error(err))
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

	if req.CheckDedup {
		dres := w.deduper.Check(ctx, body, result.FinalURL, canonical)
		result.Duplicate = &crawl.DuplicateInfo{
			IsDuplicate: dres.IsDuplicate,
			Type:        string(dres.Type),
			Action:      string(dres.Action),
			OriginalURL: dres.OriginalURL,
			Similarity:  dres.Similarity,
		}
	}

	if isHTML {
		if links, err := extract.Links(page, result.FinalURL, w.cfg.MaxLinksPerPage); err == nil {
			result.Links = links
		}
	}
	return result
}
