// Package producer enqueues execution jobs and offers a blocking facade on
// top of the asynchronous queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devcapsules/execq/internal/domain"
)

var (
	// ErrEmptyLanguage is returned when a submission names no language.
	ErrEmptyLanguage = errors.New("execq: language is required")
	// ErrEmptyCode is returned when a submission carries no code.
	ErrEmptyCode = errors.New("execq: code is required")
)

// SubmitRequest is the enqueue contract: what an upstream caller provides
// to run a piece of code.
type SubmitRequest struct {
	Language string             `json:"language"`
	Code     string             `json:"code"`
	Input    string             `json:"input,omitempty"`
	Options  domain.ExecOptions `json:"options,omitempty"`
}

// Producer assigns job IDs and makes submissions durable on the pending
// list. Enqueueing never blocks on execution.
type Producer struct {
	store  domain.JobStore
	logger *slog.Logger
}

// New returns a Producer writing to the given store.
func New(store domain.JobStore, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{store: store, logger: logger}
}

// QueueJob validates the request, assigns a fresh job ID, and appends the
// job to the pending list. It returns as soon as the append is
// acknowledged; no execution has happened yet and no status entry exists.
//
// A store failure surfaces as domain.ErrQueueUnavailable; the append is a
// single atomic operation, so no partial state is left behind.
func (p *Producer) QueueJob(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Language == "" {
		return "", ErrEmptyLanguage
	}
	if req.Code == "" {
		return "", ErrEmptyCode
	}

	job := domain.Job{
		ID:         uuid.New().String(),
		Language:   req.Language,
		Code:       req.Code,
		Input:      req.Input,
		Options:    req.Options.WithDefaults(),
		EnqueuedAt: time.Now().UTC(),
	}

	if err := p.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	p.logger.Info("Job enqueued", "jobID", job.ID, "language", job.Language)
	return job.ID, nil
}
