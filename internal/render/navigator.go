package render

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"crawl-engine/internal/browser"
)

// Tab is one leased browser page.
type Tab interface {
	Context() context.Context
	Release()
}

// TabPool leases browser tabs.
type TabPool interface {
	Acquire(ctx context.Context) (Tab, error)
}

// poolAdapter narrows *browser.Pool to TabPool.
type poolAdapter struct {
	pool *browser.Pool
}

func (a poolAdapter) Acquire(ctx context.Context) (Tab, error) {
	handle, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// listenFunc registers a CDP event listener that lives until ctx ends.
type listenFunc func(ctx context.Context, fn func(ev interface{}))

const networkIdleQuiet = 500 * time.Millisecond

// chromedpNavigator performs one navigation attempt on a pooled tab.
type chromedpNavigator struct {
	pool   TabPool
	listen listenFunc
}

func (n *chromedpNavigator) Navigate(ctx context.Context, url string, opts Options) (*Result, error) {
	handle, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire tab: %w", err)
	}
	defer handle.Release()

	taskCtx, cancel := context.WithTimeout(handle.Context(), opts.Timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	listen := n.listen
	if listen == nil {
		listen = chromedp.ListenTarget
	}

	// Listeners bind to the attempt context so they unregister when the
	// attempt ends. Pooled tabs are reused across renders and must not
	// accumulate listeners from earlier leases.
	capt := newCapture(opts)
	capt.listen(taskCtx, listen)

	tasks := chromedp.Tasks{network.Enable()}
	if len(opts.BlockedTypes) > 0 || len(opts.BlockedDomains) > 0 {
		tasks = append(tasks, fetch.Enable())
		blockRequests(taskCtx, opts, listen)
		// The fetch domain keeps pausing requests until disabled; the
		// next lease of this tab must not inherit that.
		defer func() {
			disableCtx, cancelDisable := context.WithTimeout(handle.Context(), 2*time.Second)
			defer cancelDisable()
			_ = chromedp.Run(disableCtx, fetch.Disable())
		}()
	}
	tasks = append(tasks, chromedp.Navigate(url))
	if opts.InjectScript != "" {
		tasks = append(tasks, chromedp.Evaluate(opts.InjectScript, nil))
	}
	tasks = append(tasks, waitAction(opts, capt))

	res := &Result{}
	var shot []byte
	tasks = append(tasks,
		chromedp.Location(&res.FinalURL),
		chromedp.Title(&res.Title),
		chromedp.OuterHTML("html", &res.HTML, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &res.Text),
	)
	if opts.Screenshot {
		tasks = append(tasks, chromedp.FullScreenshot(&shot, 80))
	}

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	res.StatusCode = capt.statusCode()
	res.Screenshot = shot
	if opts.CaptureNetwork {
		res.Resources = capt.resources()
	}
	if opts.CaptureConsole {
		res.ConsoleLogs = capt.console()
	}
	return res, nil
}

func waitAction(opts Options, capt *capture) chromedp.Action {
	switch opts.Wait {
	case WaitDOMContentLoaded:
		return chromedp.Poll(`document.readyState !== "loading"`, nil)
	case WaitNetworkIdle:
		return capt.waitNetworkIdle()
	case WaitSelector:
		return chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery)
	case WaitPredicate:
		return chromedp.Poll(opts.WaitPredicate, nil)
	default:
		return chromedp.Poll(`document.readyState === "complete"`, nil)
	}
}

// blockRequests fails paused requests whose type or domain is blocked
// and continues everything else. The listener lives for one attempt.
func blockRequests(attemptCtx context.Context, opts Options, listen listenFunc) {
	types := make(map[string]bool, len(opts.BlockedTypes))
	for _, t := range opts.BlockedTypes {
		types[strings.ToLower(t)] = true
	}

	listen(attemptCtx, func(ev interface{}) {
		req, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		c := chromedp.FromContext(attemptCtx)
		if c == nil {
			return
		}
		execCtx := cdp.WithExecutor(attemptCtx, c.Target)
		go func() {
			if types[strings.ToLower(string(req.ResourceType))] || domainBlocked(req.Request.URL, opts.BlockedDomains) {
				_ = fetch.FailRequest(req.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
				return
			}
			_ = fetch.ContinueRequest(req.RequestID).Do(execCtx)
		}()
	})
}

func domainBlocked(rawURL string, blocked []string) bool {
	if len(blocked) == 0 {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, d := range blocked {
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// capture accumulates network and console events for one navigation.
type capture struct {
	captureConsole bool
	captureNetwork bool

	mu        sync.Mutex
	status    int
	statusSet bool
	res       []Resource
	logs      []string

	inflight     atomic.Int64
	lastActivity atomic.Int64
}

func newCapture(opts Options) *capture {
	c := &capture{
		captureConsole: opts.CaptureConsole,
		captureNetwork: opts.CaptureNetwork,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

func (c *capture) listen(attemptCtx context.Context, listen listenFunc) {
	listen(attemptCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.inflight.Add(1)
			c.lastActivity.Store(time.Now().UnixNano())
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			c.inflight.Add(-1)
			c.lastActivity.Store(time.Now().UnixNano())
		case *network.EventResponseReceived:
			c.onResponse(e)
		case *runtime.EventConsoleAPICalled:
			c.onConsole(e)
		}
	})
}

func (c *capture) onResponse(e *network.EventResponseReceived) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.Type == network.ResourceTypeDocument && !c.statusSet {
		c.status = int(e.Response.Status)
		c.statusSet = true
	}
	if c.captureNetwork {
		c.res = append(c.res, Resource{
			URL:        e.Response.URL,
			Type:       string(e.Type),
			MimeType:   e.Response.MimeType,
			StatusCode: int(e.Response.Status),
		})
	}
}

func (c *capture) onConsole(e *runtime.EventConsoleAPICalled) {
	if !c.captureConsole {
		return
	}
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, string(e.Type)+":")
	for _, arg := range e.Args {
		if arg.Value != nil {
			parts = append(parts, string(arg.Value))
		}
	}
	c.mu.Lock()
	c.logs = append(c.logs, strings.Join(parts, " "))
	c.mu.Unlock()
}

func (c *capture) statusCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *capture) resources() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Resource, len(c.res))
	copy(out, c.res)
	return out
}

func (c *capture) console() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// waitNetworkIdle resolves once no request has been in flight for
// networkIdleQuiet, or fails when the attempt deadline expires.
func (c *capture) waitNetworkIdle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				last := time.Unix(0, c.lastActivity.Load())
				if c.inflight.Load() <= 0 && time.Since(last) >= networkIdleQuiet {
					return nil
				}
			}
		}
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
