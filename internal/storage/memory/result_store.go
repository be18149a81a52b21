package memory

import (
	"context"
	"sync"

	"crawl-engine/internal/crawl"
)

// ResultStore keeps per-URL results in arrival order per job.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]crawl.Result
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string][]crawl.Result)}
}

// RecordResult appends a result row for a job.
func (s *ResultStore) RecordResult(_ context.Context, result crawl.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return nil
}

// ListResults returns a page of results for a job.
func (s *ResultStore) ListResults(_ context.Context, jobID string, offset, limit int) ([]crawl.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.results[jobID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []crawl.Result{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]crawl.Result, end-offset)
	copy(out, all[offset:end])
	return out, nil
}

// CountResults reports how many results a job has produced.
func (s *ResultStore) CountResults(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results[jobID]), nil
}
