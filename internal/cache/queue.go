package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SyncJob asks a worker to sync one source, or every enabled source when SourceID is 0.
type SyncJob struct {
	ID          string    `json:"id"`
	SourceID    int64     `json:"source_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSyncJob stamps a job with a fresh id.
func NewSyncJob(sourceID int64) SyncJob {
	return SyncJob{ID: uuid.NewString(), SourceID: sourceID, RequestedAt: time.Now().UTC()}
}

// SyncQueue is the Redis list key of the sync job queue.
const SyncQueue = keyPrefix + "jobs:sync"

// Enqueue pushes a job onto the left side of a Redis list.
func Enqueue(ctx context.Context, r *Redis, queue string, job SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until a job is available on the right side of the list
// or the timeout expires. When the timeout elapses without a job,
// (nil, nil) is returned so the caller can loop and check for shutdown.
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*SyncJob, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	var job SyncJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &job, nil
}
