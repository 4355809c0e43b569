// Package checker runs check cycles: select stale entries, probe them on a
// fixed pool of workers and record every outcome.
package checker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/models"
	"github.com/voyagen/iptvwatch/internal/store"
)

// Catalog is the slice of the store a check cycle needs.
type Catalog interface {
	SelectStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Entry, error)
	RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error
	ResultWriter(ctx context.Context) (store.ResultWriter, error)
}

// Prober decides whether a stream is alive. worker identifies the caller's
// scratch resources.
type Prober interface {
	Probe(ctx context.Context, worker int, url, userAgent string) bool
}

// Config holds the scheduler's tunables.
type Config struct {
	MaxWorkers int
	StaleAfter time.Duration
	// ProbeRate caps probe starts per second across all workers; 0 disables.
	ProbeRate float64
}

// Summary reports what one cycle did.
type Summary struct {
	Cycle       string        `json:"cycle"`
	Selected    int           `json:"selected"`
	Workers     int           `json:"workers"`
	Alive       int           `json:"alive"`
	Dead        int           `json:"dead"`
	WriteErrors int           `json:"write_errors"`
	Faults      int           `json:"faults"`
	Duration    time.Duration `json:"duration"`
}

// Scheduler runs check cycles. A fresh worker pool is started per cycle and
// joined before RunCycle returns.
type Scheduler struct {
	catalog Catalog
	prober  Prober
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a Scheduler. m may be nil.
func New(catalog Catalog, prober Prober, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		catalog: catalog,
		prober:  prober,
		cfg:     cfg,
		logger:  logger.With().Str("component", "checker").Logger(),
		metrics: m,
		now:     time.Now,
	}
	if cfg.ProbeRate > 0 {
		burst := max(1, int(cfg.ProbeRate))
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), burst)
	}
	return s
}

type tally struct {
	alive, dead, writeErrors, faults atomic.Int64
}

// RunCycle probes up to limit stale entries. Once started, the cycle runs to
// completion even if ctx is cancelled; only the per-probe timeout stops work.
func (s *Scheduler) RunCycle(ctx context.Context, limit int) (Summary, error) {
	start := time.Now()
	sum := Summary{Cycle: uuid.NewString()}
	log := s.logger.With().Str("cycle", sum.Cycle).Logger()

	entries, err := s.catalog.SelectStale(ctx, limit, s.cfg.StaleAfter)
	if err != nil {
		return sum, fmt.Errorf("select stale: %w", err)
	}
	sum.Selected = len(entries)
	sum.Workers = WorkerCount(len(entries), s.cfg.MaxWorkers)
	log.Info().Int("selected", sum.Selected).Int("workers", sum.Workers).Msg("check cycle started")

	work := context.WithoutCancel(ctx)
	var t tally
	var wg sync.WaitGroup
	for i, span := range Partition(len(entries), sum.Workers) {
		worker := i + 1
		slice := entries[span.Start:span.End]
		wg.Go(func() {
			s.runWorker(work, log, worker, slice, &t)
		})
	}
	wg.Wait()

	sum.Alive = int(t.alive.Load())
	sum.Dead = int(t.dead.Load())
	sum.WriteErrors = int(t.writeErrors.Load())
	sum.Faults = int(t.faults.Load())
	sum.Duration = time.Since(start)
	s.metrics.IncCycles()
	log.Info().
		Int("alive", sum.Alive).
		Int("dead", sum.Dead).
		Int("write_errors", sum.WriteErrors).
		Int("faults", sum.Faults).
		Dur("took", sum.Duration).
		Msg("check cycle finished")
	return sum, nil
}

// resultSink is what a worker writes through: its own connection, or the
// shared catalog when no dedicated one could be opened.
type resultSink interface {
	RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error
}

func (s *Scheduler) runWorker(ctx context.Context, parent zerolog.Logger, worker int, entries []models.Entry, t *tally) {
	log := parent.With().Int("worker", worker).Logger()
	var sink resultSink = s.catalog
	if w, err := s.catalog.ResultWriter(ctx); err != nil {
		log.Warn().Err(err).Msg("no dedicated connection; writing through shared store")
	} else {
		defer w.Close()
		sink = w
	}

	for i := range entries {
		s.checkOne(ctx, log, worker, sink, &entries[i], t)
	}
	log.Debug().Int("entries", len(entries)).Msg("worker done")
}

// checkOne probes and records a single entry. A panic is contained here so
// the rest of the batch still gets checked.
func (s *Scheduler) checkOne(ctx context.Context, log zerolog.Logger, worker int, sink resultSink, e *models.Entry, t *tally) {
	defer func() {
		if r := recover(); r != nil {
			t.faults.Add(1)
			log.Error().Int64("id", e.ID).Str("url", e.URL).Interface("panic", r).Msg("check fault")
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("rate limiter")
		}
	}
	alive := s.prober.Probe(ctx, worker, e.URL, e.UserAgentValue())
	if err := sink.RecordCheckResult(ctx, e.ID, alive, s.now()); err != nil {
		// The entry stays stale and is picked up again next cycle.
		t.writeErrors.Add(1)
		s.metrics.IncWriteErrors()
		log.Error().Err(err).Int64("id", e.ID).Msg("write check result")
		return
	}
	if alive {
		t.alive.Add(1)
	} else {
		t.dead.Add(1)
	}
}
