// Package jobstore persists asynchronous chat-turn jobs.
package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// MemoryStore keeps jobs in a map. Records vanish on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

var _ port.JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.Job)}
}

// Create persists a new job.
func (s *MemoryStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: duplicate id", job.ID)
	}
	job.Result = job.Result.Clone()
	s.jobs[job.ID] = job
	return nil
}

// Get returns a job by id.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, port.ErrNotFound)
	}
	job.Result = job.Result.Clone()
	return job, nil
}

// Resolve writes a terminal state unless one is already stored.
func (s *MemoryStore) Resolve(_ context.Context, job domain.Job) (domain.Job, bool, error) {
	if !job.State.Terminal() {
		return domain.Job{}, false, fmt.Errorf("resolve job %s: state %q is not terminal", job.ID, job.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return domain.Job{}, false, fmt.Errorf("resolve job %s: %w", job.ID, port.ErrNotFound)
	}
	if stored.State.Terminal() {
		stored.Result = stored.Result.Clone()
		return stored, false, nil
	}
	job.Result = job.Result.Clone()
	s.jobs[job.ID] = job
	job.Result = job.Result.Clone()
	return job, true, nil
}

// Sweep drops terminal jobs resolved before cutoff.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.State.Terminal() && job.ResolvedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
