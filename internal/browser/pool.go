// Package browser manages a bounded pool of headless Chrome tabs.
//
// One Chrome process backs the pool; each pool slot owns a tab context
// that is reset between uses and recycled when it stops responding.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrPoolClosed indicates the pool has been shut down.
var ErrPoolClosed = errors.New("browser pool closed")

// ErrAcquireTimeout indicates no tab became available before the deadline.
var ErrAcquireTimeout = errors.New("browser pool acquire timeout")

const healthCheckScript = "1 + 1"

// Options configures the pool.
type Options struct {
	// Size is the maximum number of concurrently leased tabs.
	Size int
	// AcquireTimeout bounds how long Acquire waits for a free tab.
	AcquireTimeout time.Duration
	// UserAgent is applied to the Chrome process.
	UserAgent string
	// Headless disables the visible browser window. Tests may set it false.
	Headless bool
}

// PageHandle is a leased browser tab. Callers must Release it when done,
// ideally via defer, so the slot returns to the pool even on error paths.
type PageHandle struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	pool   *Pool
}

// Context returns the tab context for running chromedp tasks.
func (h *PageHandle) Context() context.Context { return h.ctx }

// Pool is a fixed-size pool of browser tabs over a single Chrome process.
type Pool struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger

	opts   Options
	free   chan *PageHandle
	inUse  atomic.Int64
	closed atomic.Bool

	mu      sync.Mutex
	handles map[int]*PageHandle
}

// NewPool starts a Chrome process and prepares Size tab slots.
func NewPool(opts Options, logger *zap.Logger) (*Pool, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("browser pool size must be positive, got %d", opts.Size)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	p := &Pool{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		opts:            opts,
		free:            make(chan *PageHandle, opts.Size),
		handles:         make(map[int]*PageHandle, opts.Size),
	}
	for i := 0; i < opts.Size; i++ {
		h, err := p.newHandle(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open tab %d: %w", i, err)
		}
		p.free <- h
	}
	return p, nil
}

func (p *Pool) newHandle(id int) (*PageHandle, error) {
	tabCtx, cancel := chromedp.NewContext(p.browserCtx)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("init tab: %w", err)
	}
	h := &PageHandle{id: id, ctx: tabCtx, cancel: cancel, pool: p}
	p.mu.Lock()
	p.handles[id] = h
	p.mu.Unlock()
	return h, nil
}

// Acquire leases a healthy tab, blocking until one is free or the
// acquire timeout expires. Unhealthy tabs are recycled transparently.
func (p *Pool) Acquire(ctx context.Context) (*PageHandle, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	for {
		select {
		case h, ok := <-p.free:
			if !ok {
				return nil, ErrPoolClosed
			}
			if !p.healthy(h) {
				replacement, err := p.recycle(h)
				if err != nil {
					// Return the slot so the pool does not shrink permanently.
					p.putFree(h)
					return nil, fmt.Errorf("recycle tab %d: %w", h.id, err)
				}
				h = replacement
			}
			p.inUse.Add(1)
			return h, nil
		case <-timer.C:
			return nil, ErrAcquireTimeout
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire tab: %w", ctx.Err())
		}
	}
}

// Release resets the tab and returns it to the pool. A tab that fails
// the reset is recycled rather than returned dirty.
func (h *PageHandle) Release() {
	h.pool.release(h)
}

func (p *Pool) release(h *PageHandle) {
	defer p.inUse.Add(-1)
	if p.closed.Load() {
		return
	}

	resetCtx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	err := chromedp.Run(resetCtx,
		network.ClearBrowserCookies(),
		chromedp.Navigate("about:blank"),
	)
	cancel()
	if err != nil {
		p.logger.Warn("tab reset failed, recycling",
			zap.Int("tab_id", h.id),
			zap.Error(err))
		replacement, recycleErr := p.recycle(h)
		if recycleErr != nil {
			p.logger.Error("tab recycle failed, returning as-is",
				zap.Int("tab_id", h.id),
				zap.Error(recycleErr))
			p.putFree(h)
			return
		}
		h = replacement
	}
	p.putFree(h)
}

// putFree returns a handle to the free channel. Sends are serialized with
// Close under p.mu, so a late release never sends on a closed channel; the
// handle is dropped instead, its context already cancelled by Close.
func (p *Pool) putFree(h *PageHandle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return false
	}
	// Never blocks: at most Size handles circulate and the channel holds Size.
	p.free <- h
	return true
}

// healthy runs a trivial script against the tab to verify it responds.
func (p *Pool) healthy(h *PageHandle) bool {
	if h.ctx.Err() != nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	defer cancel()
	var out int
	if err := chromedp.Run(checkCtx, chromedp.Evaluate(healthCheckScript, &out)); err != nil {
		p.logger.Warn("tab health check failed",
			zap.Int("tab_id", h.id),
			zap.Error(err))
		return false
	}
	return out == 2
}

// recycle closes a dead tab and opens a fresh one in its slot.
func (p *Pool) recycle(h *PageHandle) (*PageHandle, error) {
	h.cancel()
	p.mu.Lock()
	delete(p.handles, h.id)
	p.mu.Unlock()
	return p.newHandle(h.id)
}

// HealthCheck verifies the Chrome process still answers. It is cheap
// enough to serve a liveness probe.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	checkCtx, cancel := context.WithTimeout(p.browserCtx, 3*time.Second)
	defer cancel()
	var out int
	if err := chromedp.Run(checkCtx, chromedp.Evaluate(healthCheckScript, &out)); err != nil {
		return fmt.Errorf("browser health check: %w", err)
	}
	if out != 2 {
		return fmt.Errorf("browser health check: unexpected result %d", out)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// InUse reports how many tabs are currently leased.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Size reports the pool capacity.
func (p *Pool) Size() int { return p.opts.Size }

// Close tears down all tabs and the Chrome process. In-flight work is
// cancelled through the tab contexts.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	for _, h := range p.handles {
		h.cancel()
	}
	p.handles = map[int]*PageHandle{}
	close(p.free)
	p.mu.Unlock()
	for range p.free {
	}
	p.browserCancel()
	p.allocatorCancel()
}
