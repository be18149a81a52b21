// Package monitor aggregates per-domain and system-wide crawl activity and
// composes the service health check. Recording is non-blocking; when the
// buffer is full events are dropped and counted rather than stalling workers.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize = 4096
	dropLogInterval   = 5 * time.Second
)

// Outcome labels what happened to a processed page.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// PageEvent is one processed page, as seen by the aggregator.
type PageEvent struct {
	Domain    string
	Outcome   Outcome
	Bytes     int
	Duration  time.Duration
	Rendered  bool
	Duplicate bool
}

// DomainStats are the per-domain aggregates.
type DomainStats struct {
	Domain     string  `json:"domain"`
	Pages      int64   `json:"pages"`
	Succeeded  int64   `json:"succeeded"`
	Failed     int64   `json:"failed"`
	Skipped    int64   `json:"skipped"`
	Duplicates int64   `json:"duplicates"`
	Rendered   int64   `json:"rendered"`
	Bytes      int64   `json:"bytes"`
	AvgMs      float64 `json:"avg_ms"`

	totalMs int64
}

// SystemStats are the service-wide aggregates.
type SystemStats struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	ActiveJobs    int   `json:"active_jobs"`
	QueuedURLs    int   `json:"queued_urls"`
	Pages         int64 `json:"pages"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Skipped       int64 `json:"skipped"`
	Duplicates    int64 `json:"duplicates"`
	Rendered      int64 `json:"rendered"`
	Bytes         int64 `json:"bytes"`
	Domains       int   `json:"domains"`
	DroppedEvents int64 `json:"dropped_events,omitempty"`
}

// HealthCheck is a named liveness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health is the composed health report.
type Health struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

// Gauges supplies point-in-time readings folded into SystemStats.
type Gauges struct {
	ActiveJobs func() int
	QueuedURLs func() int
}

// Monitor consumes PageEvents and serves aggregate snapshots.
type Monitor struct {
	events  chan PageEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	gauges  Gauges
	checks  []HealthCheck
	started time.Time
	dropped atomic.Int64
	closed  atomic.Bool

	mu      sync.Mutex
	domains map[string]*DomainStats
	total   DomainStats

	closeOnce sync.Once
	lastDrop  atomic.Int64
}

// New starts a Monitor with the given gauges and health checks.
func New(gauges Gauges, checks []HealthCheck, logger *zap.Logger) *Monitor {
	m := &Monitor{
		events:  make(chan PageEvent, defaultBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		gauges:  gauges,
		checks:  checks,
		started: time.Now(),
		domains: make(map[string]*DomainStats),
	}
	go m.run()
	return m
}

// Record submits an event. It never blocks: when the buffer is full the
// event is dropped and counted.
func (m *Monitor) Record(ev PageEvent) {
	if m.closed.Load() {
		return
	}
	select {
	case m.events <- ev:
	default:
		n := m.dropped.Add(1)
		m.maybeLogDrop(n)
	}
}

func (m *Monitor) maybeLogDrop(total int64) {
	now := time.Now().UnixNano()
	last := m.lastDrop.Load()
	if now-last < int64(dropLogInterval) {
		return
	}
	if m.lastDrop.CompareAndSwap(last, now) && m.logger != nil {
		m.logger.Warn("monitor buffer full, dropping events", zap.Int64("dropped_total", total))
	}
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		case <-m.stopCh:
			// Drain what is already buffered.
			for {
				select {
				case ev := <-m.events:
					m.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) apply(ev PageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.domains[ev.Domain]
	if !ok {
		ds = &DomainStats{Domain: ev.Domain}
		m.domains[ev.Domain] = ds
	}
	for _, s := range []*DomainStats{ds, &m.total} {
		s.Pages++
		s.Bytes += int64(ev.Bytes)
		s.totalMs += ev.Duration.Milliseconds()
		switch ev.Outcome {
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		default:
			s.Succeeded++
		}
		if ev.Duplicate {
			s.Duplicates++
		}
		if ev.Rendered {
			s.Rendered++
		}
	}
}

// Snapshot returns the system-wide aggregates.
func (m *Monitor) Snapshot() SystemStats {
	m.mu.Lock()
	total := m.total
	domains := len(m.domains)
	m.mu.Unlock()

	stats := SystemStats{
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
		Pages:         total.Pages,
		Succeeded:     total.Succeeded,
		Failed:        total.Failed,
		Skipped:       total.Skipped,
		Duplicates:    total.Duplicates,
		Rendered:      total.Rendered,
		Bytes:         total.Bytes,
		Domains:       domains,
		DroppedEvents: m.dropped.Load(),
	}
	if m.gauges.ActiveJobs != nil {
		stats.ActiveJobs = m.gauges.ActiveJobs()
	}
	if m.gauges.QueuedURLs != nil {
		stats.QueuedURLs = m.gauges.QueuedURLs()
	}
	return stats
}

// Domain returns the aggregates for one domain and whether it was seen.
func (m *Monitor) Domain(domain string) (DomainStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.domains[domain]
	if !ok {
		return DomainStats{}, false
	}
	out := *ds
	if out.Pages > 0 {
		out.AvgMs = float64(out.totalMs) / float64(out.Pages)
	}
	return out, true
}

// CheckHealth runs every registered probe and composes the report.
func (m *Monitor) CheckHealth(ctx context.Context) Health {
	h := Health{Healthy: true, Checks: make(map[string]string, len(m.checks))}
	for _, c := range m.checks {
		if err := c.Check(ctx); err != nil {
			h.Healthy = false
			h.Checks[c.Name] = err.Error()
			continue
		}
		h.Checks[c.Name] = "ok"
	}
	return h
}

// Close stops the aggregator after draining buffered events.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopCh)
		<-m.doneCh
	})
}
