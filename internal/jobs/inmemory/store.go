package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/ledger-mirror/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It keeps at most maxJobs entries, evicting the oldest first.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobs.ReconcileJob
	maxJobs int
}

// DefaultMaxJobs bounds the history kept by NewStore.
const DefaultMaxJobs = 500

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return NewStoreWithLimit(DefaultMaxJobs)
}

// NewStoreWithLimit creates a store keeping at most maxJobs jobs.
func NewStoreWithLimit(maxJobs int) *Store {
	if maxJobs < 1 {
		maxJobs = DefaultMaxJobs
	}
	return &Store{
		jobs:    make(map[string]*jobs.ReconcileJob),
		maxJobs: maxJobs,
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ReconcileJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	s.evict()

	return nil
}

// evict drops the oldest jobs beyond maxJobs. Caller holds mu.
func (s *Store) evict() {
	if len(s.jobs) <= s.maxJobs {
		return
	}
	all := s.sorted()
	for _, j := range all[s.maxJobs:] {
		delete(s.jobs, j.JobID)
	}
}

// sorted returns stored jobs newest first. Caller holds mu.
func (s *Store) sorted() []*jobs.ReconcileJob {
	all := make([]*jobs.ReconcileJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool {
		if all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].JobID < all[k].JobID
		}
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})
	return all
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ReconcileJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ReconcileJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.ReconcileJob{}
	for _, job := range s.sorted() {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ReconcileJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

var _ jobs.JobStore = (*Store)(nil)
