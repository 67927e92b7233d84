package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devcapsules/execq/internal/domain"
)

// DefaultPollInterval is how often the facade checks the status map.
const DefaultPollInterval = 250 * time.Millisecond

// Facade turns the async enqueue-then-poll flow into one blocking call. It
// is used by callers that need pass/fail before proceeding, such as the
// capsule quality-validation path.
type Facade struct {
	producer     *Producer
	store        domain.JobStore
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewFacade returns a Facade polling the given store. pollInterval <= 0
// selects DefaultPollInterval.
func NewFacade(p *Producer, store domain.JobStore, pollInterval time.Duration, logger *slog.Logger) *Facade {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{producer: p, store: store, pollInterval: pollInterval, logger: logger}
}

// ExecuteSync enqueues the request and polls until the job reaches a
// terminal state or the timeout elapses.
//
// On timeout it returns a failure status; the underlying job keeps running
// and the worker still writes its result to the store. Giving up here is a
// caller-side decision, not a cancellation.
func (f *Facade) ExecuteSync(ctx context.Context, req SubmitRequest, timeout time.Duration) (domain.JobStatus, error) {
	jobID, err := f.producer.QueueJob(ctx, req)
	if err != nil {
		return domain.JobStatus{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Warn("Gave up waiting for job", "jobID", jobID, "timeout", timeout)
			return domain.JobStatus{
				JobID: jobID,
				State: domain.StateFailed,
				Result: &domain.ExecutionResult{
					Success: false,
					Error:   fmt.Sprintf("timed out after %s waiting for job %s", timeout, jobID),
				},
				UpdatedAt: time.Now().UTC(),
			}, nil
		case <-ticker.C:
			st, err := f.store.GetStatus(ctx, jobID)
			if err != nil {
				if errors.Is(err, domain.ErrStatusNotFound) {
					continue // still pending, keep polling
				}
				f.logger.Warn("Status poll failed", "jobID", jobID, "error", err)
				continue
			}
			if st.State.Terminal() {
				return *st, nil
			}
		}
	}
}
