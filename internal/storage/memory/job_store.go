// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crawl-engine/internal/crawl"
)

// JobStore keeps jobs in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawl.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawl.Job)}
}

// CreateJob stores a new job. The ID must not already exist.
func (s *JobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the stored job.
func (s *JobStore) UpdateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return crawl.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, crawl.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(_ context.Context, status crawl.JobStatus, limit int) ([]crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]crawl.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
