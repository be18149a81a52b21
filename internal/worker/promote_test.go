package worker

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crawl-engine/internal/crawl"
	"crawl-engine/internal/frontier"
	"crawl-engine/internal/render"
)

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	p := newPromoteHeuristic()

	require.False(t, p.NeedsRender(nil))
	require.True(t, p.NeedsRender([]byte("<html><body></body></html>")), "tiny body")

	spaShell := `<html><head><title>App</title></head><body>
<noscript>You need to enable JavaScript to run this app.</noscript>
<div id="root"></div><script src="/static/js/main.js"></script></body></html>` + strings.Repeat("<!-- pad -->", 50)
	require.True(t, p.NeedsRender([]byte(spaShell)))

	article := `<html><head><title>Article</title></head><body><article>` +
		strings.Repeat("<p>Plenty of static, readable prose in this paragraph.</p>", 20) +
		`</article></body></html>`
	require.False(t, p.NeedsRender([]byte(article)))
}

func TestProcessPromotesScriptOnlyPages(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	fetcher := &fakeFetcher{pages: map[string]crawl.FetchResponse{
		"https://spa.example.com/": {
			FinalURL:   "https://spa.example.com/",
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": []string{"text/html"}},
			Body:       []byte(shell),
		},
	}}
	renderer := &fakeRenderer{result: &render.Result{
		FinalURL:   "https://spa.example.com/",
		StatusCode: http.StatusOK,
		HTML:       `<html><head><title>Hydrated</title></head><body><p>client rendered content here</p></body></html>`,
		Text:       "client rendered content here",
		Title:      "Hydrated",
		Duration:   30 * time.Millisecond,
		Attempts:   1,
		Success:    true,
	}}

	// RenderJS is off; promotion is driven by the shell heuristic alone.
	cfg := crawl.JobConfig{StartURLs: []string{"https://spa.example.com/"}, MaxDepth: 1, RateLimitRPS: 100}
	h := newHarness(t, cfg, fetcher, renderer)

	h.worker.process(context.Background(), frontier.Item{
		JobID: "job-1", URL: "https://spa.example.com/", Domain: "spa.example.com",
	})

	require.Equal(t, 1, renderer.calls)
	result, _ := h.coord.lastReport(t)
	require.True(t, result.UsedRenderer)
	require.Equal(t, "Hydrated", result.Title)
	require.Empty(t, result.ErrorText)
}

func TestProcessKeepsPlainResponseWhenPromotionFails(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`
	fetcher := &fakeFetcher{pages: map[string]crawl.FetchResponse{
		"https://spa.example.com/": {
			FinalURL:   "https://spa.example.com/",
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": []string{"text/html"}},
			Body:       []byte(shell),
		},
	}}
	renderer := &fakeRenderer{
		result: &render.Result{Attempts: 3, ErrorTag: render.TagRenderError},
		err:    &render.Error{Tag: render.TagRenderError, Err: context.Canceled},
	}

	cfg := crawl.JobConfig{StartURLs: []string{"https://spa.example.com/"}, MaxDepth: 1, RateLimitRPS: 100}
	h := newHarness(t, cfg, fetcher, renderer)

	h.worker.process(context.Background(), frontier.Item{
		JobID: "job-1", URL: "https://spa.example.com/", Domain: "spa.example.com",
	})

	result, _ := h.coord.lastReport(t)
	require.Empty(t, result.ErrorText, "plain response survives a failed promotion")
	require.False(t, result.UsedRenderer)
	require.Equal(t, http.StatusOK, result.StatusCode)
}
