package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueUnavailable is returned when the shared store cannot accept an
	// enqueue or serve a pop. Callers decide whether to retry.
	ErrQueueUnavailable = errors.New("execq: queue unavailable")

	// ErrMalformedJob is returned by Dequeue when a popped pending-list
	// entry cannot be decoded. Workers log and skip such entries.
	ErrMalformedJob = errors.New("execq: malformed job payload")

	// ErrStatusNotFound is returned by GetStatus when no status entry
	// exists for the ID, either because the job is still pending or because
	// the entry expired.
	ErrStatusNotFound = errors.New("execq: job status not found")
)

// JobStore is the shared store backing the pipeline. It is both the
// pending-work queue and the per-job status map.
//
// The store must provide atomic append, blocking atomic pop with
// at-most-one delivery across concurrent poppers, and per-key get/set with
// a TTL. No locking is layered on top of these guarantees.
type JobStore interface {
	// Enqueue appends a job to the tail of the pending list. The append is
	// a single atomic operation; on error no partial state is left behind.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks up to timeout for the next pending job. It returns
	// (nil, nil) when the timeout elapses with no work, ErrMalformedJob
	// when the popped entry cannot be decoded, and a transport error
	// otherwise. Each pending entry is delivered to exactly one caller.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// SetStatus writes the status entry for st.JobID, refreshing its TTL.
	SetStatus(ctx context.Context, st JobStatus) error

	// GetStatus reads the status entry for the given job ID.
	GetStatus(ctx context.Context, jobID string) (*JobStatus, error)

	// QueueLength reports the number of not-yet-popped jobs.
	QueueLength(ctx context.Context) (int64, error)
}

// Notifier pushes job-status events on a per-job channel so subscribers
// need not poll. The store remains the source of truth; notifications are a
// convenience channel with no delivery guarantee.
type Notifier interface {
	// Publish broadcasts a status payload on the job's channel.
	Publish(ctx context.Context, st JobStatus) error

	// Subscribe streams status payloads for one job ID. The returned stop
	// function releases the subscription and closes the channel.
	Subscribe(ctx context.Context, jobID string) (<-chan JobStatus, func(), error)
}
