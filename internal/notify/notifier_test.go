package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devcapsules/execq/internal/domain"
)

type brokenNotifier struct{ calls int }

func (b *brokenNotifier) Publish(context.Context, domain.JobStatus) error {
	b.calls++
	return errors.New("pubsub down")
}

func (b *brokenNotifier) Subscribe(context.Context, string) (<-chan domain.JobStatus, func(), error) {
	return nil, nil, errors.New("pubsub down")
}

func TestBestEffortSwallowsPublishFailure(t *testing.T) {
	n := &brokenNotifier{}
	be := NewBestEffort(n, nil)

	// Must not panic or propagate; the status write already happened.
	be.Publish(context.Background(), domain.JobStatus{JobID: "job-1", State: domain.StateCompleted})
	assert.Equal(t, 1, n.calls)
}

func TestBestEffortNilNotifier(t *testing.T) {
	be := NewBestEffort(nil, nil)
	be.Publish(context.Background(), domain.JobStatus{JobID: "job-1"})
}
