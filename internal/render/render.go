// Package render drives a pooled browser tab through navigation, wait
// strategies, script injection, resource blocking, and artifact capture.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"crawl-engine/internal/browser"
)

// WaitStrategy selects when a navigation is considered complete.
type WaitStrategy string

const (
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitLoad             WaitStrategy = "load"
	WaitNetworkIdle      WaitStrategy = "networkidle"
	WaitSelector         WaitStrategy = "selector"
	WaitPredicate        WaitStrategy = "predicate"
)

// Error tags distinguish budget exhaustion from browser-level failure.
const (
	TagTimeout     = "timeout"
	TagRenderError = "render_error"
)

// DefaultTimeout bounds a single navigation attempt.
const DefaultTimeout = 30 * time.Second

// Error is a tagged render failure.
type Error struct {
	Tag string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("render %s: %v", e.Tag, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Options configures a single render.
type Options struct {
	Wait          WaitStrategy
	WaitSelector  string
	WaitPredicate string
	Timeout       time.Duration
	MaxAttempts   int

	Screenshot     bool
	InjectScript   string
	BlockedTypes   []string
	BlockedDomains []string
	CaptureConsole bool
	CaptureNetwork bool
}

func (o Options) withDefaults() Options {
	if o.Wait == "" {
		o.Wait = WaitLoad
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Resource is one network response observed during the render.
type Resource struct {
	URL        string `json:"url"`
	Type       string `json:"type"`
	MimeType   string `json:"mime_type"`
	StatusCode int    `json:"status_code"`
}

// Result is the outcome of a render. On failure Success is false and
// ErrorTag carries the taxonomy tag.
type Result struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	StatusCode  int           `json:"status_code"`
	HTML        string        `json:"html,omitempty"`
	Text        string        `json:"text,omitempty"`
	Title       string        `json:"title,omitempty"`
	Resources   []Resource    `json:"resources,omitempty"`
	ConsoleLogs []string      `json:"console_logs,omitempty"`
	Screenshot  []byte        `json:"screenshot,omitempty"`
	Duration    time.Duration `json:"duration"`
	Attempts    int           `json:"attempts"`
	Success     bool          `json:"success"`
	ErrorTag    string        `json:"error_tag,omitempty"`
}

// Observer receives one callback per Render call, after retries.
type Observer interface {
	RenderSucceeded(d time.Duration)
	RenderTimedOut()
	RenderFailed()
}

// NopObserver satisfies Observer without recording anything.
type NopObserver struct{}

func (NopObserver) RenderSucceeded(time.Duration) {}
func (NopObserver) RenderTimedOut()               {}
func (NopObserver) RenderFailed()                 {}

// navigator performs a single navigation attempt.
type navigator interface {
	Navigate(ctx context.Context, url string, opts Options) (*Result, error)
}

// Renderer renders pages with bounded retries over a navigator.
type Renderer struct {
	nav      navigator
	observer Observer
	logger   *zap.Logger
}

// NewRenderer builds a renderer over a browser pool.
func NewRenderer(pool *browser.Pool, observer Observer, logger *zap.Logger) *Renderer {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Renderer{
		nav:      &chromedpNavigator{pool: poolAdapter{pool: pool}, listen: chromedp.ListenTarget},
		observer: observer,
		logger:   logger,
	}
}

// Render navigates to url, retrying transient failures with jittered
// backoff. The observer is notified exactly once per call.
func (r *Renderer) Render(ctx context.Context, url string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	policy := newRetryPolicy(opts.MaxAttempts)
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < policy.maxAttempts; attempt++ {
		attempts = attempt + 1
		res, err := r.nav.Navigate(ctx, url, opts)
		if err == nil {
			res.URL = url
			res.Duration = time.Since(start)
			res.Attempts = attempts
			res.Success = true
			r.observer.RenderSucceeded(res.Duration)
			return res, nil
		}

		lastErr = err
		r.logger.Warn("render attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if !policy.shouldRetry(ctx, err, attempts) {
			break
		}
		select {
		case <-time.After(policy.backoff(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = policy.maxAttempts
		}
	}

	tag := TagRenderError
	if errors.Is(lastErr, context.DeadlineExceeded) {
		tag = TagTimeout
		r.observer.RenderTimedOut()
	} else {
		r.observer.RenderFailed()
	}

	res := &Result{
		URL:      url,
		Duration: time.Since(start),
		Attempts: attempts,
		Success:  false,
		ErrorTag: tag,
	}
	return res, &Error{Tag: tag, Err: lastErr}
}
