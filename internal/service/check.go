package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/checker"
	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/store"
)

// RunCheck runs one check cycle over up to limit stale entries while holding
// the check lock. A cycle already running elsewhere yields cache.ErrLocked.
func RunCheck(ctx context.Context, locker cache.Locker, sched *checker.Scheduler, limit int) (checker.Summary, error) {
	unlock, err := locker.TryLock(ctx, cache.LockCheck)
	if err != nil {
		return checker.Summary{}, fmt.Errorf("check: %w", err)
	}
	defer unlock()
	return sched.RunCycle(ctx, limit)
}

// Prune deletes entries dead beyond retention while holding the prune lock.
func Prune(ctx context.Context, locker cache.Locker, s store.Store, retention time.Duration, logger zerolog.Logger, m *metrics.Metrics) (int64, error) {
	unlock, err := locker.TryLock(ctx, cache.LockPrune)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	defer unlock()

	n, err := s.PruneDead(ctx, retention)
	if err != nil {
		return 0, err
	}
	m.AddPruned(n)
	logger.Info().Int64("deleted", n).Dur("retention", retention).Msg("prune finished")
	return n, nil
}
