// Package worker implements the dispatch loop: pop a pending job, run it,
// write the terminal status back, publish a completion event, repeat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/notify"
)

// DefaultPopTimeout bounds each blocking pop so the loop can observe
// context cancellation between attempts. The worker still idles inside the
// blocking call with no CPU burn.
const DefaultPopTimeout = 2 * time.Second

// statusWriteTimeout bounds status writes, which use a fresh context so an
// in-flight job's result is persisted even during shutdown.
const statusWriteTimeout = 10 * time.Second

// Worker is a single sequential consumer of the pending list. It owns its
// store and executor handles; run several worker processes against the same
// store for competing-consumers throughput.
type Worker struct {
	store      domain.JobStore
	exec       domain.Executor
	notifier   *notify.BestEffort
	logger     *slog.Logger
	popTimeout time.Duration
}

// New returns a Worker. notifier may be nil to disable completion events.
func New(store domain.JobStore, exec domain.Executor, notifier domain.Notifier, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:      store,
		exec:       exec,
		notifier:   notify.NewBestEffort(notifier, logger),
		logger:     logger,
		popTimeout: DefaultPopTimeout,
	}
}

// Run drives the dispatch loop until ctx is canceled. Per-job failures are
// converted into failed status writes; pop failures are retried with
// exponential backoff. The loop itself only exits with the context.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", "popTimeout", w.popTimeout)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry the pop forever

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Worker stopping", "reason", context.Cause(ctx))
			return err
		}

		job, err := w.store.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedJob) {
				// A bad entry must never take the loop down. The producer
				// already holds its job ID; nothing else can be told.
				w.logger.Error("Skipping malformed pending entry", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			w.logger.Error("Dequeue failed, backing off", "error", err, "backoff", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		if job == nil {
			continue // idle timeout, queue empty
		}
		w.process(*job)
	}
}

// process runs one job from claim to terminal status. It never returns an
// error and never panics outward: any crash inside is converted into a
// failed status write so the loop stays alive.
func (w *Worker) process(job domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic while processing job", "jobID", job.ID, "panic", r)
			w.finish(job, domain.JobStatus{
				JobID:       job.ID,
				State:       domain.StateFailed,
				FailureKind: domain.FailureInfra,
				Result: &domain.ExecutionResult{
					Success:  false,
					ExitCode: 1,
					Language: job.Language,
					Error:    fmt.Sprintf("worker panic: %v", r),
				},
			})
		}
	}()

	w.logger.Info("Processing job", "jobID", job.ID, "language", job.Language)

	// Claim the job before executing, so a mid-execution poller sees
	// "processing" rather than no status at all.
	w.writeStatus(domain.JobStatus{JobID: job.ID, State: domain.StateProcessing})

	// Execution is deliberately detached from the loop's context: once a
	// job is claimed it runs to its own timeout, even during shutdown.
	result, err := w.exec.Execute(context.Background(), job)

	var st domain.JobStatus
	switch {
	case err != nil:
		// The infrastructure failed; the code may never have run.
		st = domain.JobStatus{
			JobID:       job.ID,
			State:       domain.StateFailed,
			FailureKind: domain.FailureInfra,
			Result: &domain.ExecutionResult{
				Success:  false,
				ExitCode: 1,
				Language: job.Language,
				Error:    err.Error(),
			},
		}
		w.logger.Error("Job execution failed", "jobID", job.ID, "error", err)
	case !result.Success:
		// The code ran and failed on its own terms.
		st = domain.JobStatus{
			JobID:       job.ID,
			State:       domain.StateFailed,
			FailureKind: domain.FailureProgram,
			Result:      &result,
		}
		w.logger.Info("Job failed", "jobID", job.ID, "exitCode", result.ExitCode)
	default:
		st = domain.JobStatus{
			JobID:  job.ID,
			State:  domain.StateCompleted,
			Result: &result,
		}
		w.logger.Info("Job completed", "jobID", job.ID, "executionMS", result.ExecutionMS)
	}

	w.finish(job, st)
}

// finish persists the terminal status and publishes the completion event.
func (w *Worker) finish(job domain.Job, st domain.JobStatus) {
	w.writeStatus(st)

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	w.notifier.Publish(ctx, st)
}

// writeStatus stamps and persists a status transition. Write failures are
// logged; the loop must survive a flaky store.
func (w *Worker) writeStatus(st domain.JobStatus) {
	st.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := w.store.SetStatus(ctx, st); err != nil {
		w.logger.Error("Failed to write job status", "jobID", st.JobID, "state", st.State, "error", err)
	}
}
