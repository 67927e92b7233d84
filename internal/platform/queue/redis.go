package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devcapsules/execq/internal/domain"
)

// DefaultStatusTTL bounds how long completed job state is retained.
const DefaultStatusTTL = time.Hour

// RedisStore implements domain.JobStore and domain.Notifier on a single
// Redis connection. The pending list is a plain Redis list (LPUSH/BRPOP
// gives FIFO with at-most-one delivery across competing workers), job
// status lives in per-ID string keys with a TTL, and completion events go
// over Pub/Sub on a per-job channel.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	statusTTL time.Duration
}

var (
	_ domain.JobStore = (*RedisStore)(nil)
	_ domain.Notifier = (*RedisStore)(nil)
)

// NewRedisStore returns a Redis-backed store adapter. It pings the server
// once so a misconfigured address fails at startup rather than on the first
// job (fail-fast).
func NewRedisStore(addr, keyPrefix string, statusTTL time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	if keyPrefix == "" {
		keyPrefix = "execq"
	}
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &RedisStore{
		client:    rdb,
		keyPrefix: keyPrefix,
		statusTTL: statusTTL,
	}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) pendingKey() string {
	return s.keyPrefix + ":pending"
}

func (s *RedisStore) statusKey(jobID string) string {
	return s.keyPrefix + ":status:" + jobID
}

func (s *RedisStore) channel(jobID string) string {
	return s.keyPrefix + ":events:" + jobID
}

// Enqueue appends the job to the pending list with LPUSH. Workers BRPOP
// from the other end, so submission order is preserved.
func (s *RedisStore) Enqueue(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := s.client.LPush(ctx, s.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("redis enqueue failed: %w", err)
	}
	return nil
}

// Dequeue pops the next pending job with BRPOP. The worker idles inside the
// blocking call with no CPU burn; timeout bounds the block so the caller's
// context can be honored between attempts.
func (s *RedisStore) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Job, error) {
	vals, err := s.client.BRPop(ctx, timeout, s.pendingKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // timed out, no work
		}
		return nil, fmt.Errorf("redis dequeue failed: %w", err)
	}

	// BRPOP returns [key, value].
	if len(vals) != 2 || vals[1] == "" {
		return nil, fmt.Errorf("%w: empty entry", domain.ErrMalformedJob)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedJob, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing job id", domain.ErrMalformedJob)
	}
	return &job, nil
}

// SetStatus writes the status entry for the job, refreshing its TTL so
// completed state is reclaimed automatically.
func (s *RedisStore) SetStatus(ctx context.Context, st domain.JobStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.client.Set(ctx, s.statusKey(st.JobID), data, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("redis status write failed: %w", err)
	}
	return nil
}

// GetStatus reads the status entry for the given job ID.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	data, err := s.client.Get(ctx, s.statusKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrStatusNotFound
		}
		return nil, fmt.Errorf("redis status read failed: %w", err)
	}
	var st domain.JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &st, nil
}

// QueueLength reports the number of not-yet-popped jobs via LLEN.
func (s *RedisStore) QueueLength(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue length failed: %w", err)
	}
	return n, nil
}

// Publish broadcasts the status payload on the job's Pub/Sub channel.
func (s *RedisStore) Publish(ctx context.Context, st domain.JobStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}
	return s.client.Publish(ctx, s.channel(st.JobID), data).Err()
}

// Subscribe streams status events for one job ID until the stop function is
// called or the context ends.
func (s *RedisStore) Subscribe(ctx context.Context, jobID string) (<-chan domain.JobStatus, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(jobID))

	// Wait for confirmation that the subscription is live, so events
	// published immediately afterwards are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to job events: %w", err)
	}

	outCh := make(chan domain.JobStatus)

	go func() {
		defer close(outCh)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var st domain.JobStatus
				if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
					slog.Error("Failed to unmarshal status event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case outCh <- st:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	stop := func() { pubsub.Close() }
	return outCh, stop, nil
}
