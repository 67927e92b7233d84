package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devcapsules/execq/internal/domain"
)

// MemoryStore is an in-process implementation of domain.JobStore and
// domain.Notifier. It backs single-process development setups and the test
// suite; production deployments use RedisStore.
type MemoryStore struct {
	mu        sync.Mutex
	pending   [][]byte
	status    map[string]statusEntry
	subs      map[string]map[chan domain.JobStatus]struct{}
	wait      chan struct{} // closed and replaced on every push
	statusTTL time.Duration
}

type statusEntry struct {
	st        domain.JobStatus
	expiresAt time.Time
}

var (
	_ domain.JobStore = (*MemoryStore)(nil)
	_ domain.Notifier = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(statusTTL time.Duration) *MemoryStore {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &MemoryStore{
		status:    make(map[string]statusEntry),
		subs:      make(map[string]map[chan domain.JobStatus]struct{}),
		wait:      make(chan struct{}),
		statusTTL: statusTTL,
	}
}

// Enqueue appends the job to the tail of the pending list.
func (s *MemoryStore) Enqueue(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	s.PushRaw(data)
	return nil
}

// PushRaw appends a raw pending-list entry without encoding it first. It
// exists so foreign producers (and tests) can place arbitrary payloads on
// the list, including ones that do not decode.
func (s *MemoryStore) PushRaw(data []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, data)
	// Broadcast to all blocked poppers.
	close(s.wait)
	s.wait = make(chan struct{})
	s.mu.Unlock()
}

// Dequeue pops the head of the pending list, blocking up to timeout. Each
// entry is handed to exactly one caller.
func (s *MemoryStore) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			data := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return decodeJob(data)
		}
		wait := s.wait
		s.mu.Unlock()

		select {
		case <-wait:
			// New work arrived, race for it.
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func decodeJob(data []byte) (*domain.Job, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty entry", domain.ErrMalformedJob)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedJob, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing job id", domain.ErrMalformedJob)
	}
	return &job, nil
}

// SetStatus writes the status entry for the job, refreshing its TTL.
func (s *MemoryStore) SetStatus(ctx context.Context, st domain.JobStatus) error {
	s.mu.Lock()
	s.status[st.JobID] = statusEntry{st: st, expiresAt: time.Now().Add(s.statusTTL)}
	s.mu.Unlock()
	return nil
}

// GetStatus reads the status entry for the given job ID. Expired entries
// are reclaimed lazily on read.
func (s *MemoryStore) GetStatus(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.status[jobID]
	if !ok {
		return nil, domain.ErrStatusNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.status, jobID)
		return nil, domain.ErrStatusNotFound
	}
	st := entry.st
	return &st, nil
}

// QueueLength reports the number of not-yet-popped jobs.
func (s *MemoryStore) QueueLength(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

// Publish fans the status payload out to the job's subscribers. Slow
// subscribers are skipped rather than blocked on.
func (s *MemoryStore) Publish(ctx context.Context, st domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs[st.JobID] {
		select {
		case ch <- st:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener for one job's status events.
func (s *MemoryStore) Subscribe(ctx context.Context, jobID string) (<-chan domain.JobStatus, func(), error) {
	ch := make(chan domain.JobStatus, 4)

	s.mu.Lock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[chan domain.JobStatus]struct{})
	}
	s.subs[jobID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[jobID], ch)
			if len(s.subs[jobID]) == 0 {
				delete(s.subs, jobID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}
