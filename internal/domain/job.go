package domain

import "time"

// State is the lifecycle position of a job. Transitions are one-directional:
// StateQueued -> StateProcessing -> StateCompleted | StateFailed.
type State string

const (
	// StateQueued means the job sits on the pending list and no worker has
	// claimed it yet. Queued jobs have no status entry in the store.
	StateQueued State = "queued"
	// StateProcessing means a worker popped the job and is executing it.
	StateProcessing State = "processing"
	// StateCompleted means execution finished with exit code 0.
	StateCompleted State = "completed"
	// StateFailed means execution failed; FailureKind tells whether the
	// program or the infrastructure is to blame.
	StateFailed State = "failed"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind discriminates failed jobs internally. The external state enum
// stays two-valued; this detail exists for diagnostics only.
type FailureKind string

const (
	// FailureInfra covers transport and engine-level errors: the code may
	// never have run at all.
	FailureInfra FailureKind = "infra_error"
	// FailureProgram covers code that ran and exited non-zero or crashed.
	FailureProgram FailureKind = "program_error"
)

// ExecOptions are per-job execution tuning parameters. Zero values mean
// "use the default".
type ExecOptions struct {
	CompileTimeoutMS    int   `json:"compile_timeout_ms,omitempty"`
	RunTimeoutMS        int   `json:"run_timeout_ms,omitempty"`
	RunMemoryLimitBytes int64 `json:"run_memory_limit_bytes,omitempty"`
}

// Defaults mirror the engine-side limits.
const (
	DefaultCompileTimeoutMS    = 10000
	DefaultRunTimeoutMS        = 30000
	DefaultRunMemoryLimitBytes = 256 * 1024 * 1024
)

// WithDefaults returns a copy with unset fields filled in.
func (o ExecOptions) WithDefaults() ExecOptions {
	if o.CompileTimeoutMS <= 0 {
		o.CompileTimeoutMS = DefaultCompileTimeoutMS
	}
	if o.RunTimeoutMS <= 0 {
		o.RunTimeoutMS = DefaultRunTimeoutMS
	}
	if o.RunMemoryLimitBytes <= 0 {
		o.RunMemoryLimitBytes = DefaultRunMemoryLimitBytes
	}
	return o
}

// Job is a unit of work: one piece of code to execute. It is created by the
// producer, serialized onto the pending list, and never mutated afterwards.
// Results are stored separately under the same ID.
type Job struct {
	ID         string      `json:"id"`
	Language   string      `json:"language"`
	Code       string      `json:"code"`
	Input      string      `json:"input,omitempty"`
	Options    ExecOptions `json:"options"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// ExecutionResult is the normalized outcome of running a job, whichever
// executor produced it.
type ExecutionResult struct {
	Success     bool   `json:"success"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
	Signal      string `json:"signal,omitempty"`
	Language    string `json:"language,omitempty"`
	Version     string `json:"version,omitempty"`
	ExecutionMS int64  `json:"execution_ms"`
	// Error carries infrastructure-level error text (engine unreachable,
	// bad response). Program-level errors live in Stderr.
	Error string `json:"error,omitempty"`
}

// JobStatus is the mutable projection of a job's progress, stored per job ID
// with a bounded TTL. Readers never mutate it; only the worker that claimed
// the job writes it.
type JobStatus struct {
	JobID       string           `json:"job_id"`
	State       State            `json:"status"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
