package jobmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/trainer"
)

// worker implements the five-step loop from the worker pool's component
// design: block on the queue, claim the job, resolve the trainer, run it,
// and drive the terminal transition. A worker never exits on a job
// failure — only Stop (queue shutdown) ends its loop.
type worker struct {
	id      int
	manager *Manager
}

func (w *worker) loop(ctx context.Context) {
	stop := ctx.Done()
	for {
		entry, ok := w.manager.queue.PopBlocking(stop)
		if !ok {
			return // queue shut down
		}

		job, runCtx, err := w.manager.dispatch(ctx, entry.JobID)
		if err != nil {
			w.manager.logger.Warn().Str("job_id", entry.JobID).Err(err).Msg("failed to dispatch job")
			continue
		}
		if job == nil {
			continue // no longer queued (cancelled between push and pop)
		}

		w.manager.recorder.WorkersBusy(1)
		w.run(runCtx, job)
		w.manager.recorder.WorkersBusy(-1)
	}
}

// run resolves the trainer for job, invokes it, and always drives exactly
// one terminal transition before returning — the worker itself never
// dies, regardless of what the trainer does.
func (w *worker) run(ctx context.Context, job *domain.Job) {
	adapter, err := w.manager.registry.Resolve(job.TrainerKind)
	if err != nil {
		w.manager.finish(job.ID, domain.JobStatusFailed, nil, domain.ErrKindUnknownTrainer, err.Error())
		return
	}

	reporter := func(delta domain.Progress) { w.manager.ReportProgress(job.ID, delta) }
	result := w.runTrainer(ctx, job, adapter, reporter)

	switch {
	case result.Cancelled:
		w.manager.finish(job.ID, domain.JobStatusCancelled, nil, "", "")
	case result.Err != nil:
		w.manager.finish(job.ID, domain.JobStatusFailed, nil, domain.KindOf(result.Err), result.Err.Error())
	default:
		w.manager.finish(job.ID, domain.JobStatusCompleted, result.ArtifactRefs, "", "")
	}
}

// runTrainer invokes adapter.Run in its own goroutine so the worker can
// enforce cancelGraceTimeout: once ctx is cancelled, a non-cooperating
// trainer is abandoned — not killed, Go has no mechanism for that — after
// the grace period, and the worker returns to its loop regardless of
// whether that goroutine ever finishes.
func (w *worker) runTrainer(ctx context.Context, job *domain.Job, adapter trainer.Adapter, report trainer.Reporter) trainer.Result {
	resultCh := make(chan trainer.Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- trainer.Result{Err: domain.NewError(domain.ErrKindInternal, fmt.Sprintf("trainer panic: %v", r))}
			}
		}()
		resultCh <- adapter.Run(ctx, job.ConfigRef, job.DatasetRef, report)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
	}

	grace := w.manager.config.CancelGraceTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case res := <-resultCh:
		return res
	case <-time.After(grace):
		if w.manager.cancelReason(job.ID) == "timeout" {
			return trainer.Result{Err: domain.ErrTimeout}
		}
		return trainer.Result{Err: domain.ErrCancelTimeout}
	}
}
