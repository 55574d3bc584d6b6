package port

import (
	"context"
	"time"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

// JobStore persists job records.
type JobStore interface {
	// Create persists a new Pending job.
	Create(ctx context.Context, job domain.Job) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Job, error)

	// Resolve atomically writes a terminal state. When the stored job is
	// already terminal it is returned unchanged and resolved is false.
	Resolve(ctx context.Context, job domain.Job) (stored domain.Job, resolved bool, err error)

	// Sweep deletes terminal jobs resolved before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Worker executes one job payload in the background.
type Worker interface {
	Run(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error)

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error) {
	return f(ctx, job, payload)
}
