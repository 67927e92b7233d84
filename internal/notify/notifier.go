// Package notify wraps a domain.Notifier with best-effort semantics: the
// job store stays the single source of truth and a lost notification is
// only a lost hint, never a lost result.
package notify

import (
	"context"
	"log/slog"

	"github.com/devcapsules/execq/internal/domain"
)

// BestEffort publishes status events and swallows publish failures. A
// failed publish is logged and never affects the authoritative status
// write; subscribers that miss an event can always poll the store.
type BestEffort struct {
	notifier domain.Notifier
	logger   *slog.Logger
}

// NewBestEffort wraps the given notifier. A nil notifier disables
// publishing entirely.
func NewBestEffort(n domain.Notifier, logger *slog.Logger) *BestEffort {
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{notifier: n, logger: logger}
}

// Publish broadcasts the status payload, logging and discarding any error.
func (b *BestEffort) Publish(ctx context.Context, st domain.JobStatus) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Publish(ctx, st); err != nil {
		b.logger.Warn("Failed to publish status event", "jobID", st.JobID, "state", st.State, "error", err)
	}
}
