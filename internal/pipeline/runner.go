package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

// ErrQueueFull is returned when the submission queue cannot accept work.
var ErrQueueFull = eris.New("pipeline: submission queue is full")

type job struct {
	firmID    string
	projectID string
	opts      Options
}

// Runner executes pipeline runs in the background. Submit returns
// immediately; workers drain a bounded queue. A panicking or failing run
// marks the project errored and the processing lock is always released by
// the run itself.
type Runner struct {
	pipeline *Pipeline
	jobs     chan job
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewRunner starts workers goroutines draining a queue of the given depth.
func NewRunner(p *Pipeline, workers, depth int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 16
	}
	r := &Runner{
		pipeline: p,
		jobs:     make(chan job, depth),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues a run. Returns ErrQueueFull rather than blocking the
// caller's request.
func (r *Runner) Submit(firmID, projectID string, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return eris.New("pipeline: runner is shut down")
	}
	select {
	case r.jobs <- job{firmID: firmID, projectID: projectID, opts: opts}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight runs to finish.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.execute(j)
	}
}

func (r *Runner) execute(j job) {
	ctx := context.Background()
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("pipeline: run panicked",
				zap.String("project_id", j.projectID),
				zap.Any("panic", rec))
			r.markErrored(ctx, j, eris.Errorf("pipeline: panic: %v", rec))
		}
	}()

	result, err := r.pipeline.Run(ctx, j.firmID, j.projectID, j.opts)
	if err != nil {
		zap.L().Error("pipeline: background run failed",
			zap.String("project_id", j.projectID),
			zap.Error(err))
		// A refused run touched nothing; there is no state to clean up.
		if !errors.Is(err, store.ErrProcessing) && !errors.Is(err, store.ErrNotFound) &&
			!errors.Is(err, ErrAlreadyCompleted) {
			r.markErrored(ctx, j, err)
		}
		return
	}
	zap.L().Info("pipeline: background run finished",
		zap.String("project_id", j.projectID),
		zap.String("status", string(result.Status)),
		zap.String("stopped_reason", string(result.StoppedReason)))
}

// markErrored records a run-level failure on the project and clears the
// processing lock. Step-level failures are already persisted by Run.
func (r *Runner) markErrored(ctx context.Context, j job, runErr error) {
	project, err := r.pipeline.store.GetProject(ctx, j.firmID, j.projectID)
	if err != nil {
		zap.L().Error("pipeline: load project after failure",
			zap.String("project_id", j.projectID), zap.Error(err))
		return
	}
	project.Status = model.StatusError
	project.ErrorMessage = runErr.Error()
	if err := r.pipeline.store.UpdateProject(ctx, project); err != nil {
		zap.L().Error("pipeline: persist error status",
			zap.String("project_id", j.projectID), zap.Error(err))
	}
	if err := r.pipeline.store.ReleaseProcessing(ctx, j.firmID, j.projectID); err != nil {
		zap.L().Warn("pipeline: release lock after failure",
			zap.String("project_id", j.projectID), zap.Error(err))
	}
}
