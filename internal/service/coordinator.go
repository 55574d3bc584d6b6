package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// CoordinatorConfig bounds background execution.
type CoordinatorConfig struct {
	MaxWorkers    int64         // concurrent workers; submissions beyond wait for a slot
	Timeout       time.Duration // per-job generation limit
	Retention     time.Duration // how long terminal jobs stay pollable
	SweepInterval time.Duration // janitor period, Retention/4 when zero
	ResolveRetry  time.Duration // first backoff between terminal write attempts
}

// resolveAttempts bounds terminal writes before the outcome is kept in
// memory instead.
const resolveAttempts = 4

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.Retention / 4
	}
	if c.ResolveRetry <= 0 {
		c.ResolveRetry = 50 * time.Millisecond
	}
	return c
}

// JobCoordinator runs chat turns in the background and exposes their
// lifecycle through Submit and Poll. Pending moves to Completed or Failed
// exactly once.
type JobCoordinator struct {
	store  port.JobStore
	worker port.Worker
	cfg    CoordinatorConfig
	sem    *semaphore.Weighted
	now    func() time.Time

	wg sync.WaitGroup

	mu      sync.Mutex
	subs    map[string][]chan domain.JobStatus
	unsaved map[string]domain.Job // terminal jobs the store refused

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// NewJobCoordinator creates a coordinator executing payloads with worker.
func NewJobCoordinator(store port.JobStore, worker port.Worker, cfg CoordinatorConfig) *JobCoordinator {
	cfg = cfg.withDefaults()
	return &JobCoordinator{
		store:  store,
		worker: worker,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxWorkers),
		now:    func() time.Time { return time.Now().UTC() },
		subs:   make(map[string][]chan domain.JobStatus),

		unsaved: make(map[string]domain.Job),
	}
}

// Submit records a Pending job owned by ownerID and hands payload to a
// worker. It returns without waiting for a worker slot.
func (c *JobCoordinator) Submit(ctx context.Context, ownerID string, payload domain.JobPayload) (domain.JobHandle, error) {
	if ownerID == "" {
		return domain.JobHandle{}, fmt.Errorf("submit job: missing owner: %w", port.ErrValidation)
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		ChatID:      payload.ChatID,
		State:       domain.JobPending,
		SubmittedAt: c.now(),
	}
	if err := c.store.Create(ctx, job); err != nil {
		return domain.JobHandle{}, fmt.Errorf("create job: %w", err)
	}

	c.wg.Add(1)
	go c.run(job, payload)

	slog.Info("job submitted", "job_id", job.ID, "owner", ownerID, "chat_id", job.ChatID)
	return domain.JobHandle{ID: job.ID}, nil
}

// Poll returns the current status of a job. Unknown ids and jobs of other
// owners both yield ErrNotFound.
func (c *JobCoordinator) Poll(ctx context.Context, ownerID, id string) (domain.JobStatus, error) {
	c.mu.Lock()
	job, ok := c.unsaved[id]
	c.mu.Unlock()
	if !ok {
		var err error
		if job, err = c.store.Get(ctx, id); err != nil {
			return domain.JobStatus{}, err
		}
	}
	if job.OwnerID != ownerID {
		return domain.JobStatus{}, fmt.Errorf("get job %s: %w", id, port.ErrNotFound)
	}
	return job.Status(), nil
}

// Wait blocks until the job is terminal or ctx ends, then returns the
// latest status.
func (c *JobCoordinator) Wait(ctx context.Context, ownerID, id string) (domain.JobStatus, error) {
	ch, unsubscribe := c.Subscribe(id)
	defer unsubscribe()

	st, err := c.Poll(ctx, ownerID, id)
	if err != nil || st.State.Terminal() {
		return st, err
	}
	select {
	case <-ch:
		return c.Poll(ctx, ownerID, id)
	case <-ctx.Done():
		return st, ctx.Err()
	}
}

// Subscribe returns a channel receiving the terminal status of job id, and
// a function releasing the subscription. The channel is closed after the
// terminal status is delivered or on release.
func (c *JobCoordinator) Subscribe(id string) (<-chan domain.JobStatus, func()) {
	ch := make(chan domain.JobStatus, 1)
	c.mu.Lock()
	c.subs[id] = append(c.subs[id], ch)
	c.mu.Unlock()

	return ch, func() { c.unsubscribe(id, ch) }
}

func (c *JobCoordinator) unsubscribe(id string, ch chan domain.JobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[id]
	for i, s := range subs {
		if s == ch {
			c.subs[id] = append(subs[:i], subs[i+1:]...)
			if len(c.subs[id]) == 0 {
				delete(c.subs, id)
			}
			close(ch)
			return
		}
	}
}

func (c *JobCoordinator) notify(st domain.JobStatus) {
	c.mu.Lock()
	subs := c.subs[st.ID]
	delete(c.subs, st.ID)
	c.mu.Unlock()

	for _, ch := range subs {
		ch <- st
		close(ch)
	}
}

func (c *JobCoordinator) run(job domain.Job, payload domain.JobPayload) {
	defer c.wg.Done()

	ctx := context.Background()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.resolve(job, nil, err)
		return
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	result, err := c.execute(ctx, job, payload)
	c.resolve(job, result, err)
}

type workerOutcome struct {
	result *domain.JobResult
	err    error
}

// execute runs the worker, converting panics to errors. A worker that
// ignores ctx is abandoned when the timeout fires.
func (c *JobCoordinator) execute(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error) {
	done := make(chan workerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("worker panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
				done <- workerOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := c.worker.Run(ctx, job, payload)
		done <- workerOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.result == nil {
			out.err = errors.New("worker returned no result")
		}
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("generation timed out after %s", c.cfg.Timeout)
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("generation timed out after %s", c.cfg.Timeout)
	}
}

func (c *JobCoordinator) resolve(job domain.Job, result *domain.JobResult, err error) {
	job.ResolvedAt = c.now()
	if err != nil {
		job.State = domain.JobFailed
		job.Error = fmt.Errorf("%w: %w", port.ErrWorkerFailure, err).Error()
	} else {
		job.State = domain.JobCompleted
		job.Result = result
	}

	stored, rerr := c.persist(job)
	if rerr != nil {
		slog.Error("resolve job failed, keeping outcome in memory", "job_id", job.ID, "error", rerr)
		c.mu.Lock()
		c.unsaved[job.ID] = job
		c.mu.Unlock()
		stored = job
	}
	if stored.State == domain.JobFailed {
		slog.Warn("job failed", "job_id", job.ID, "error", stored.Error)
	} else {
		slog.Info("job completed", "job_id", job.ID, "duration", stored.ResolvedAt.Sub(stored.SubmittedAt))
	}
	c.notify(stored.Status())
}

// persist writes the terminal job, retrying with doubling backoff.
func (c *JobCoordinator) persist(job domain.Job) (domain.Job, error) {
	wait := c.cfg.ResolveRetry
	for attempt := 1; ; attempt++ {
		stored, _, err := c.store.Resolve(context.Background(), job)
		if err == nil {
			return stored, nil
		}
		if attempt == resolveAttempts {
			return domain.Job{}, err
		}
		slog.Warn("resolve job retry", "job_id", job.ID, "attempt", attempt, "error", err)
		time.Sleep(wait)
		wait *= 2
	}
}

// Start launches the retention janitor. It stops when ctx ends or on Close.
func (c *JobCoordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.stopJanitor = cancel
	c.janitorDone = make(chan struct{})

	go func() {
		defer close(c.janitorDone)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Sweep forgets terminal jobs older than the retention window. Outcomes
// held in memory are written to the store first, so they expire with it.
func (c *JobCoordinator) Sweep(ctx context.Context) int {
	c.flushUnsaved(ctx)

	n, err := c.store.Sweep(ctx, c.now().Add(-c.cfg.Retention))
	if err != nil {
		slog.Error("job sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("swept expired jobs", "count", n)
	}
	return n
}

func (c *JobCoordinator) flushUnsaved(ctx context.Context) {
	c.mu.Lock()
	pending := make([]domain.Job, 0, len(c.unsaved))
	for _, job := range c.unsaved {
		pending = append(pending, job)
	}
	c.mu.Unlock()

	for _, job := range pending {
		if _, _, err := c.store.Resolve(ctx, job); err != nil {
			slog.Warn("job outcome still unsaved", "job_id", job.ID, "error", err)
			continue
		}
		c.mu.Lock()
		delete(c.unsaved, job.ID)
		c.mu.Unlock()
		slog.Info("stored job outcome", "job_id", job.ID)
	}
}

// Close stops the janitor and waits for in-flight workers.
func (c *JobCoordinator) Close() {
	if c.stopJanitor != nil {
		c.stopJanitor()
		<-c.janitorDone
	}
	c.wg.Wait()
}
