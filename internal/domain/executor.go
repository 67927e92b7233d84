package domain

import "context"

// Executor runs a job's code and returns the normalized result.
//
// A returned error means the infrastructure failed (engine unreachable,
// daemon error) and the code may never have run; a nil error with
// Success=false means the code ran and failed on its own. Implementations
// perform exactly one execution attempt per call; retry policy, if any,
// belongs to the caller.
type Executor interface {
	Execute(ctx context.Context, job Job) (ExecutionResult, error)
}
