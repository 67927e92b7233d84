package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/platform/queue"
)

// stubExecutor runs the configured function instead of real code.
type stubExecutor struct {
	fn func(job domain.Job) (domain.ExecutionResult, error)
}

func (s *stubExecutor) Execute(ctx context.Context, job domain.Job) (domain.ExecutionResult, error) {
	return s.fn(job)
}

func echoExecutor() *stubExecutor {
	return &stubExecutor{fn: func(job domain.Job) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{Success: true, Stdout: "42\n", Language: job.Language}, nil
	}}
}

func startWorker(t *testing.T, store domain.JobStore, exec domain.Executor, notifier domain.Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := New(store, exec, notifier, nil)
	go w.Run(ctx)
}

func enqueue(t *testing.T, store domain.JobStore, id, code string) {
	t.Helper()
	err := store.Enqueue(context.Background(), domain.Job{
		ID:         id,
		Language:   "python",
		Code:       code,
		Options:    domain.ExecOptions{}.WithDefaults(),
		EnqueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func waitForTerminal(t *testing.T, store domain.JobStore, jobID string) domain.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.GetStatus(context.Background(), jobID)
		if err == nil && st.State.Terminal() {
			return *st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return domain.JobStatus{}
}

func TestWorkerProcessesJob(t *testing.T) {
	store := queue.NewMemoryStore(0)
	startWorker(t, store, echoExecutor(), store)

	enqueue(t, store, "job-1", "print(40+2)")

	st := waitForTerminal(t, store, "job-1")
	assert.Equal(t, domain.StateCompleted, st.State)
	require.NotNil(t, st.Result)
	assert.True(t, st.Result.Success)
	assert.Equal(t, "42\n", st.Result.Stdout)
	assert.Empty(t, st.FailureKind)
}

func TestWorkerPublishesTerminalEvent(t *testing.T) {
	store := queue.NewMemoryStore(0)

	events, stop, err := store.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	defer stop()

	startWorker(t, store, echoExecutor(), store)
	enqueue(t, store, "job-1", "print(40+2)")

	select {
	case st := <-events:
		assert.Equal(t, domain.StateCompleted, st.State)
		require.NotNil(t, st.Result)
		assert.Equal(t, "42\n", st.Result.Stdout)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event received")
	}
}

func TestWorkerProgramFailure(t *testing.T) {
	store := queue.NewMemoryStore(0)
	exec := &stubExecutor{fn: func(job domain.Job) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{Success: false, Stderr: "ValueError: x\n", ExitCode: 1}, nil
	}}
	startWorker(t, store, exec, store)

	enqueue(t, store, "job-1", "raise ValueError('x')")

	st := waitForTerminal(t, store, "job-1")
	assert.Equal(t, domain.StateFailed, st.State)
	assert.Equal(t, domain.FailureProgram, st.FailureKind)
	require.NotNil(t, st.Result)
	assert.Contains(t, st.Result.Stderr, "ValueError")
}

func TestWorkerTransportFailureKeepsLoopAlive(t *testing.T) {
	store := queue.NewMemoryStore(0)

	// The engine is unreachable for the first job only.
	var calls atomic.Int64
	exec := &stubExecutor{fn: func(job domain.Job) (domain.ExecutionResult, error) {
		if calls.Add(1) == 1 {
			return domain.ExecutionResult{}, errors.New("connection refused")
		}
		return domain.ExecutionResult{Success: true, Stdout: "ok\n"}, nil
	}}
	startWorker(t, store, exec, store)

	enqueue(t, store, "job-1", "print(1)")
	st := waitForTerminal(t, store, "job-1")
	assert.Equal(t, domain.StateFailed, st.State)
	assert.Equal(t, domain.FailureInfra, st.FailureKind)
	require.NotNil(t, st.Result)
	assert.NotEmpty(t, st.Result.Error)

	// A second, independent job still completes normally.
	enqueue(t, store, "job-2", "print(2)")
	st = waitForTerminal(t, store, "job-2")
	assert.Equal(t, domain.StateCompleted, st.State)
}

func TestWorkerSkipsMalformedEntry(t *testing.T) {
	store := queue.NewMemoryStore(0)

	store.PushRaw([]byte("{not json"))
	store.PushRaw([]byte(`{"language":"python"}`)) // decodes but has no id

	startWorker(t, store, echoExecutor(), store)

	enqueue(t, store, "job-1", "print(40+2)")
	st := waitForTerminal(t, store, "job-1")
	assert.Equal(t, domain.StateCompleted, st.State)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	store := queue.NewMemoryStore(0)

	var calls atomic.Int64
	exec := &stubExecutor{fn: func(job domain.Job) (domain.ExecutionResult, error) {
		if calls.Add(1) == 1 {
			panic("executor blew up")
		}
		return domain.ExecutionResult{Success: true}, nil
	}}
	startWorker(t, store, exec, store)

	enqueue(t, store, "job-1", "print(1)")
	st := waitForTerminal(t, store, "job-1")
	assert.Equal(t, domain.StateFailed, st.State)
	assert.Equal(t, domain.FailureInfra, st.FailureKind)
	require.NotNil(t, st.Result)
	assert.Contains(t, st.Result.Error, "panic")

	enqueue(t, store, "job-2", "print(2)")
	st = waitForTerminal(t, store, "job-2")
	assert.Equal(t, domain.StateCompleted, st.State)
}

func TestWorkerStatusMonotonicity(t *testing.T) {
	store := queue.NewMemoryStore(0)
	exec := &stubExecutor{fn: func(job domain.Job) (domain.ExecutionResult, error) {
		time.Sleep(200 * time.Millisecond)
		return domain.ExecutionResult{Success: true}, nil
	}}
	startWorker(t, store, exec, store)

	enqueue(t, store, "job-1", "print(1)")

	// Sample status reads while the job makes progress.
	var observed []domain.State
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.GetStatus(context.Background(), "job-1")
		state := domain.StateQueued
		if err == nil {
			state = st.State
		}
		if len(observed) == 0 || observed[len(observed)-1] != state {
			observed = append(observed, state)
		}
		if state.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rank := map[domain.State]int{
		domain.StateQueued:     0,
		domain.StateProcessing: 1,
		domain.StateCompleted:  2,
		domain.StateFailed:     2,
	}
	for i := 1; i < len(observed); i++ {
		assert.Greater(t, rank[observed[i]], rank[observed[i-1]],
			fmt.Sprintf("observed backward transition %v", observed))
	}
	require.NotEmpty(t, observed)
	assert.True(t, observed[len(observed)-1].Terminal())
	assert.Contains(t, observed, domain.StateProcessing)
}

func TestWorkerStopsWithContext(t *testing.T) {
	store := queue.NewMemoryStore(0)
	ctx, cancel := context.WithCancel(context.Background())

	w := New(store, echoExecutor(), store, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
