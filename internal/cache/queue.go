package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobKind names the maintenance operation a queued job asks for.
type JobKind string

const (
	JobCheck  JobKind = "check"
	JobPrune  JobKind = "prune"
	JobIngest JobKind = "ingest"
)

// Job describes a background catalog task handed from the API to the worker.
type Job struct {
	Kind        JobKind   `json:"kind"`
	Limit       int       `json:"limit,omitempty"` // check: max entries
	URL         string    `json:"url,omitempty"`   // ingest: playlist source
	RequestedAt time.Time `json:"requested_at"`
}

// DefaultQueue is the Redis list key used for the job queue.
const DefaultQueue = "iptvwatch:jobs"

// Enqueue pushes a job onto the left side of a Redis list.
func Enqueue(ctx context.Context, r *Redis, queue string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until a job is available on the right side of the list
// or the timeout expires. When the timeout elapses without a job,
// (nil, nil) is returned so the caller can loop and check for shutdown.
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*Job, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		// Context cancelled on shutdown.
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &job, nil
}

// QueueLength reports how many jobs are waiting.
func QueueLength(ctx context.Context, r *Redis, queue string) (int64, error) {
	return r.client.LLen(ctx, queue).Result()
}
