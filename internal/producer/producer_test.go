package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/queue"
)

func TestQueueJobValidation(t *testing.T) {
	p := New(queue.NewMemoryStore(0), nil)

	_, err := p.QueueJob(context.Background(), SubmitRequest{Code: "print(1)"})
	assert.ErrorIs(t, err, ErrEmptyLanguage)

	_, err = p.QueueJob(context.Background(), SubmitRequest{Language: "python"})
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestQueueJobReturnsImmediately(t *testing.T) {
	// No worker is running; enqueueing must not depend on execution.
	store := queue.NewMemoryStore(0)
	p := New(store, nil)

	started := time.Now()
	jobID, err := p.QueueJob(context.Background(), SubmitRequest{Language: "python", Code: "while True: pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Less(t, time.Since(started), time.Second)

	n, err := store.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// No status entry exists yet; the job is implicitly queued.
	_, err = store.GetStatus(context.Background(), jobID)
	assert.ErrorIs(t, err, domain.ErrStatusNotFound)
}

func TestQueueJobAppliesDefaults(t *testing.T) {
	store := queue.NewMemoryStore(0)
	p := New(store, nil)

	jobID, err := p.QueueJob(context.Background(), SubmitRequest{Language: "python", Code: "print(1)"})
	require.NoError(t, err)

	job, err := store.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, jobID, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Equal(t, domain.DefaultCompileTimeoutMS, job.Options.CompileTimeoutMS)
	assert.Equal(t, domain.DefaultRunTimeoutMS, job.Options.RunTimeoutMS)
	assert.Equal(t, int64(domain.DefaultRunMemoryLimitBytes), job.Options.RunMemoryLimitBytes)
}

func TestQueueJobFIFO(t *testing.T) {
	store := queue.NewMemoryStore(0)
	p := New(store, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := p.QueueJob(context.Background(), SubmitRequest{Language: "python", Code: "print(1)"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		job, err := store.Dequeue(context.Background(), time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}
}

// failingStore rejects every operation, as a store outage would.
type failingStore struct{}

func (failingStore) Enqueue(context.Context, domain.Job) error { return errors.New("store down") }
func (failingStore) Dequeue(context.Context, time.Duration) (*domain.Job, error) {
	return nil, errors.New("store down")
}
func (failingStore) SetStatus(context.Context, domain.JobStatus) error { return errors.New("store down") }
func (failingStore) GetStatus(context.Context, string) (*domain.JobStatus, error) {
	return nil, errors.New("store down")
}
func (failingStore) QueueLength(context.Context) (int64, error) { return 0, errors.New("store down") }

func TestQueueJobStoreUnavailable(t *testing.T) {
	p := New(failingStore{}, nil)

	_, err := p.QueueJob(context.Background(), SubmitRequest{Language: "python", Code: "print(1)"})
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}
