// Package jobs runs allocations in the background and tracks their progress.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/model"
	"github.com/herdline/breeding-cli/internal/monitoring"
	"github.com/herdline/breeding-cli/internal/store"
)

var (
	ErrNotFound     = eris.New("jobs: run not found")
	ErrFinished     = eris.New("jobs: run already finished")
	ErrShuttingDown = eris.New("jobs: manager is shutting down")
)

// RunFunc executes one allocation, reporting progress through the callback.
type RunFunc func(ctx context.Context, progress allocator.ProgressFunc) (*allocator.Result, error)

// Job is a point-in-time view of a background run.
type Job struct {
	ID              string            `json:"id"`
	Params          model.RunParams   `json:"params"`
	Status          model.RunStatus   `json:"status"`
	Message         string            `json:"message,omitempty"`
	Percent         int               `json:"percent"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	Error           string            `json:"error,omitempty"`
	Summary         *model.RunSummary `json:"summary,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Options configures a Manager. Store and Metrics are optional.
type Options struct {
	Store         store.Store
	Metrics       *monitoring.Metrics
	MaxConcurrent int
}

type entry struct {
	job    Job
	result *model.RunResult
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the background runs of one process.
type Manager struct {
	opts Options
	sem  *semaphore.Weighted

	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a Manager. MaxConcurrent defaults to 1.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Manager{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		jobs: make(map[string]*entry),
	}
}

// Start registers a run and executes it on a background goroutine. ctx bounds
// only the registration; the run itself lives until it finishes or is
// cancelled.
func (m *Manager) Start(ctx context.Context, params model.RunParams, run RunFunc) (Job, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Job{}, ErrShuttingDown
	}

	now := time.Now().UTC()
	job := Job{
		ID:        uuid.New().String(),
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.opts.Store != nil {
		stored, err := m.opts.Store.CreateRun(ctx, params)
		if err != nil {
			return Job{}, eris.Wrap(err, "jobs: persist run")
		}
		job.ID, job.CreatedAt, job.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{job: job, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return Job{}, ErrShuttingDown
	}
	m.jobs[job.ID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	zap.L().Info("jobs: run queued", zap.String("run_id", job.ID), zap.String("source", params.Source))

	go m.execute(runCtx, e, run)
	return job, nil
}

func (m *Manager) execute(ctx context.Context, e *entry, run RunFunc) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	id := e.job.ID
	log := zap.L().With(zap.String("component", "jobs"), zap.String("run_id", id))

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(e, model.RunStatusCancelled, nil, "cancelled while queued", 0)
		return
	}
	defer m.sem.Release(1)

	m.update(e, func(j *Job) { j.Status = model.RunStatusRunning })
	m.persistStatus(id, model.RunStatusRunning, "")
	if m.opts.Metrics != nil {
		m.opts.Metrics.RunStarted()
	}
	log.Info("jobs: run started")

	start := time.Now()
	res, err := run(ctx, func(msg string, pct int) {
		m.update(e, func(j *Job) { j.Message, j.Percent = msg, pct })
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, allocator.ErrCancelled) || (err == nil && ctx.Err() != nil):
		// Partial results of a cancelled run are discarded.
		log.Info("jobs: run cancelled")
		m.finish(e, model.RunStatusCancelled, nil, "cancelled", elapsed)
	case err != nil:
		log.Error("jobs: run failed", zap.Error(err))
		m.finish(e, model.RunStatusFailed, nil, err.Error(), elapsed)
	default:
		rr := res.RunResult()
		if m.opts.Store != nil {
			if perr := m.opts.Store.SaveResult(context.WithoutCancel(ctx), id, rr); perr != nil {
				log.Error("jobs: persist result failed", zap.Error(perr))
				m.finish(e, model.RunStatusFailed, nil, perr.Error(), elapsed)
				return
			}
		}
		log.Info("jobs: run complete",
			zap.Int("assignments", len(rr.Assignments)),
			zap.Duration("elapsed", elapsed),
		)
		m.finish(e, model.RunStatusComplete, rr, "", elapsed)
	}
}

func (m *Manager) finish(e *entry, status model.RunStatus, res *model.RunResult, errMsg string, elapsed time.Duration) {
	started := e.snapshot(&m.mu).Status == model.RunStatusRunning
	m.update(e, func(j *Job) {
		j.Status = status
		j.Error = errMsg
		if res != nil {
			j.Summary = &res.Summary
			j.Percent = 100
		}
	})
	m.mu.Lock()
	e.result = res
	m.mu.Unlock()

	// SaveResult already marked a completed run.
	if status != model.RunStatusComplete {
		m.persistStatus(e.job.ID, status, errMsg)
	}
	if m.opts.Metrics != nil && started {
		m.opts.Metrics.RunFinished(status, res, elapsed)
	}
}

func (m *Manager) persistStatus(id string, status model.RunStatus, errMsg string) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.UpdateRunStatus(context.Background(), id, status, errMsg); err != nil {
		zap.L().Warn("jobs: persist status failed",
			zap.String("run_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (m *Manager) update(e *entry, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&e.job)
	e.job.UpdatedAt = time.Now().UTC()
}

func (e *entry) snapshot(mu *sync.RWMutex) Job {
	mu.RLock()
	defer mu.RUnlock()
	return e.job
}

// Cancel requests cancellation. The engine stops at its next cohort boundary.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return eris.Wrapf(ErrNotFound, "jobs: cancel %s", id)
	}
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		return eris.Wrapf(ErrFinished, "jobs: cancel %s", id)
	}
	e.job.CancelRequested = true
	e.job.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	e.cancel()
	zap.L().Info("jobs: cancel requested", zap.String("run_id", id))
	return nil
}

// Get returns the current view of a run.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List returns every run known to this process, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Result returns the in-memory result of a completed run.
func (m *Manager) Result(id string) (*model.RunResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok || e.result == nil {
		return nil, false
	}
	return e.result, true
}

// Wait blocks until the run finishes. If ctx ends first the run is cancelled
// and Wait still returns its final state.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, eris.Wrapf(ErrNotFound, "jobs: wait %s", id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		e.cancel()
		<-e.done
	}
	return e.snapshot(&m.mu), nil
}

// Shutdown rejects new runs, cancels running ones and waits for them to stop
// or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, e := range m.jobs {
		e.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "jobs: shutdown")
	}
}
