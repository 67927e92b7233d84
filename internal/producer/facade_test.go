package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/queue"
	"github.com/devcapsules/execq/internal/worker"
)

type sleepExecutor struct {
	delay  time.Duration
	result domain.ExecutionResult
}

func (s sleepExecutor) Execute(ctx context.Context, job domain.Job) (domain.ExecutionResult, error) {
	time.Sleep(s.delay)
	return s.result, nil
}

func startWorker(t *testing.T, store *queue.MemoryStore, exec domain.Executor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go worker.New(store, exec, store, nil).Run(ctx)
}

func TestExecuteSyncCompletes(t *testing.T) {
	store := queue.NewMemoryStore(0)
	startWorker(t, store, sleepExecutor{result: domain.ExecutionResult{Success: true, Stdout: "42\n"}})

	p := New(store, nil)
	f := NewFacade(p, store, 20*time.Millisecond, nil)

	st, err := f.ExecuteSync(context.Background(), SubmitRequest{Language: "python", Code: "print(40+2)"}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, "42\n", st.Result.Stdout)
	assert.Equal(t, 0, st.Result.ExitCode)
}

func TestExecuteSyncPropagatesFailure(t *testing.T) {
	store := queue.NewMemoryStore(0)
	startWorker(t, store, sleepExecutor{result: domain.ExecutionResult{Success: false, Stderr: "ValueError: x\n", ExitCode: 1}})

	p := New(store, nil)
	f := NewFacade(p, store, 20*time.Millisecond, nil)

	st, err := f.ExecuteSync(context.Background(), SubmitRequest{Language: "python", Code: "raise ValueError('x')"}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, domain.StateFailed, st.State)
	require.NotNil(t, st.Result)
	assert.Contains(t, st.Result.Stderr, "ValueError")
}

func TestExecuteSyncTimeoutLeavesJobRunning(t *testing.T) {
	store := queue.NewMemoryStore(0)
	startWorker(t, store, sleepExecutor{delay: 500 * time.Millisecond, result: domain.ExecutionResult{Success: true}})

	p := New(store, nil)
	f := NewFacade(p, store, 20*time.Millisecond, nil)

	st, err := f.ExecuteSync(context.Background(), SubmitRequest{Language: "python", Code: "slow()"}, 150*time.Millisecond)
	require.NoError(t, err)

	// The caller gave up...
	assert.Equal(t, domain.StateFailed, st.State)
	require.NotNil(t, st.Result)
	assert.False(t, st.Result.Success)
	assert.Contains(t, st.Result.Error, "timed out")

	// ...but the worker is unaffected and still writes the result.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetStatus(context.Background(), st.JobID)
		if err == nil && got.State.Terminal() {
			assert.Equal(t, domain.StateCompleted, got.State)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("underlying job never reached a terminal state")
}

func TestExecuteSyncInvalidRequest(t *testing.T) {
	store := queue.NewMemoryStore(0)
	p := New(store, nil)
	f := NewFacade(p, store, 0, nil)

	_, err := f.ExecuteSync(context.Background(), SubmitRequest{Language: "python"}, time.Second)
	assert.ErrorIs(t, err, ErrEmptyCode)
}
