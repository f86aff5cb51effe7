// Package store implements the Job State Store: the in-memory map of
// JobID to Job record that is the sole source of truth for queries.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/makr-code/loraforge/internal/domain"
)

// MemStore is an in-memory JobID -> Job map under a single-writer
// discipline: only the Job Manager calls the mutating methods. Readers take
// consistent snapshots via Get/List/Clone and never block a writer for long.
type MemStore struct {
	mu                sync.RWMutex
	jobs              map[string]*domain.Job
	retainTerminalFor time.Duration
}

// New creates a MemStore that evicts terminal jobs retainTerminalFor after
// their FinishedAt.
func New(retainTerminalFor time.Duration) *MemStore {
	return &MemStore{
		jobs:              make(map[string]*domain.Job),
		retainTerminalFor: retainTerminalFor,
	}
}

// Put inserts or replaces the record for job.ID. Only the Manager calls this.
func (s *MemStore) Put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a deep-enough clone of the job for jobID, or ErrNotFound.
func (s *MemStore) Get(jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.NewError(domain.ErrKindNotFound, "job "+jobID+" not found")
	}
	return j.Clone(), nil
}

// Mutate runs fn against the live record for jobID under the write lock,
// so the Manager can apply a transition atomically with respect to other
// readers and writers. fn must not retain the pointer past its call.
func (s *MemStore) Mutate(jobID string, fn func(*domain.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.NewError(domain.ErrKindNotFound, "job "+jobID+" not found")
	}
	return fn(j)
}

// List returns a snapshot of jobs matching filter, most-recent SubmittedAt first.
func (s *MemStore) List(filter domain.ListFilter) []*domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// PurgeTerminal evicts terminal jobs whose FinishedAt is older than
// retainTerminalFor, returning the number evicted. Called periodically by
// the Manager's retention loop.
func (s *MemStore) PurgeTerminal(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.retainTerminalFor)
	evicted := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && !j.FinishedAt.IsZero() && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Count returns the number of jobs currently retained, by status.
func (s *MemStore) Count() map[domain.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out
}
