// Package fetch implements plain-HTTP page retrieval for URLs that do
// not need JavaScript rendering.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"crawl-engine/internal/crawl"
)

// Options configures the collector shared by all fetches.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	Parallelism    int
	MaxBodyBytes   int
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 10 << 20
	}
	return o
}

// CollyFetcher implements crawl.Fetcher on a shared colly collector.
// Per-fetch state lives on a clone so concurrent fetches never share
// callbacks.
type CollyFetcher struct {
	base   *colly.Collector
	logger *zap.Logger
}

// NewCollyFetcher constructs a configured fetcher.
func NewCollyFetcher(opts Options, logger *zap.Logger) (*CollyFetcher, error) {
	opts = opts.withDefaults()

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(opts.UserAgent),
		colly.MaxBodySize(opts.MaxBodyBytes),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       opts.Parallelism * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(opts.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure limit rule: %w", err)
	}

	return &CollyFetcher{base: base, logger: logger}, nil
}

type fetchOutcome struct {
	resp crawl.FetchResponse
	err  error
}

// Fetch retrieves a single URL. Robots enforcement and frontier rate
// limiting happen upstream; this layer only moves bytes.
func (f *CollyFetcher) Fetch(ctx context.Context, req crawl.FetchRequest) (crawl.FetchResponse, error) {
	collector := f.base.Clone()

	outCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() { outCh <- out })
	}
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		if req.UserAgent != "" {
			r.Headers.Set("User-Agent", req.UserAgent)
		}
		for k, vs := range req.Headers {
			for _, v := range vs {
				r.Headers.Add(k, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, vs := range *r.Headers {
				cp := make([]string, len(vs))
				copy(cp, vs)
				headers[k] = cp
			}
		}
		send(fetchOutcome{resp: crawl.FetchResponse{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
			Duration:   time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		out := fetchOutcome{err: err}
		// 4xx/5xx still carry a usable response.
		if r != nil && r.StatusCode > 0 {
			out = fetchOutcome{resp: crawl.FetchResponse{
				URL:        req.URL,
				FinalURL:   req.URL,
				StatusCode: r.StatusCode,
				Headers:    http.Header{},
				Body:       append([]byte{}, r.Body...),
				Duration:   time.Since(start),
			}}
		}
		send(out)
	})

	if err := collector.Visit(req.URL); err != nil {
		return crawl.FetchResponse{}, fmt.Errorf("visit %s: %w", req.URL, err)
	}
	collector.Wait()

	select {
	case out := <-outCh:
		if err := ctx.Err(); err != nil {
			return crawl.FetchResponse{}, err
		}
		if out.err != nil {
			return crawl.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, out.err)
		}
		return out.resp, nil
	default:
		return crawl.FetchResponse{}, fmt.Errorf("fetch %s produced no result", req.URL)
	}
}
