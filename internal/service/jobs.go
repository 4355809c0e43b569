package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/checker"
	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/store"
)

const (
	dequeueTimeout = 5 * time.Second
	dequeueBackoff = 2 * time.Second
)

// Jobs runs maintenance work requested by the API or a timer. With Redis
// configured, submitted jobs go through the shared queue so any serve
// instance can pick them up; otherwise they run in a local goroutine.
type Jobs struct {
	Store      store.Store
	Locker     cache.Locker
	Scheduler  *checker.Scheduler
	Ingest     IngestOptions
	CheckBatch int
	Retention  time.Duration
	Redis      *cache.Redis // nil = run submitted jobs locally
	Queue      string
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	wg sync.WaitGroup
}

func (j *Jobs) queue() string {
	if j.Queue == "" {
		return cache.DefaultQueue
	}
	return j.Queue
}

// Submit hands job off without waiting for it. It reports whether the job
// went onto the Redis queue.
func (j *Jobs) Submit(ctx context.Context, job cache.Job) (queued bool, err error) {
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	if j.Redis != nil {
		if err := cache.Enqueue(ctx, j.Redis, j.queue(), job); err != nil {
			return false, fmt.Errorf("enqueue %s: %w", job.Kind, err)
		}
		return true, nil
	}
	bg := context.WithoutCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if err := j.Run(bg, job); err != nil {
			j.Logger.Error().Err(err).Str("kind", string(job.Kind)).Msg("background job failed")
		}
	}()
	return false, nil
}

// Pending reports how many submitted jobs are waiting on the Redis queue.
// Without Redis, jobs never wait and Pending is always zero.
func (j *Jobs) Pending(ctx context.Context) (int64, error) {
	if j.Redis == nil {
		return 0, nil
	}
	n, err := cache.QueueLength(ctx, j.Redis, j.queue())
	if err != nil {
		return 0, fmt.Errorf("QueueLength: %w", err)
	}
	return n, nil
}

// Wait blocks until locally started jobs have finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}

// Run executes job synchronously. A held lock is logged, not returned.
func (j *Jobs) Run(ctx context.Context, job cache.Job) error {
	switch job.Kind {
	case cache.JobCheck:
		limit := job.Limit
		if limit <= 0 {
			limit = j.CheckBatch
		}
		_, err := RunCheck(ctx, j.Locker, j.Scheduler, limit)
		return j.skipLocked(err, job.Kind)
	case cache.JobPrune:
		_, err := Prune(ctx, j.Locker, j.Store, j.Retention, j.Logger, j.Metrics)
		return j.skipLocked(err, job.Kind)
	case cache.JobIngest:
		_, err := Ingest(ctx, j.Store, job.URL, j.Ingest)
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (j *Jobs) skipLocked(err error, kind cache.JobKind) error {
	if errors.Is(err, cache.ErrLocked) {
		j.Logger.Info().Str("kind", string(kind)).Msg("already running elsewhere; skipped")
		return nil
	}
	return err
}

// Worker continuously dequeues jobs from Redis and runs them. It stops when
// ctx is cancelled (graceful shutdown).
func (j *Jobs) Worker(ctx context.Context) {
	if j.Redis == nil {
		return
	}
	j.Logger.Info().Str("queue", j.queue()).Msg("job worker started")
	for {
		select {
		case <-ctx.Done():
			j.Logger.Info().Msg("job worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, j.Redis, j.queue(), dequeueTimeout)
		if err != nil {
			j.Logger.Error().Err(err).Msg("dequeue")
			select {
			case <-ctx.Done():
				j.Logger.Info().Msg("job worker stopping")
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		j.Logger.Info().Str("kind", string(job.Kind)).Int("limit", job.Limit).Str("url", job.URL).Msg("processing job")
		if err := j.Run(context.WithoutCancel(ctx), *job); err != nil {
			j.Logger.Error().Err(err).Str("kind", string(job.Kind)).Msg("job failed")
		}
	}
}

// Periodic runs a check cycle followed by a prune sweep every interval until
// ctx is cancelled.
func (j *Jobs) Periodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	j.Logger.Info().Dur("interval", interval).Msg("periodic check enabled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, kind := range []cache.JobKind{cache.JobCheck, cache.JobPrune} {
			if err := j.Run(ctx, cache.Job{Kind: kind}); err != nil {
				j.Logger.Error().Err(err).Str("kind", string(kind)).Msg("periodic job failed")
			}
		}
	}
}
