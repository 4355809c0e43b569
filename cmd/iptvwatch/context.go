package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/checker"
	"github.com/voyagen/iptvwatch/internal/config"
	"github.com/voyagen/iptvwatch/internal/fetcher"
	"github.com/voyagen/iptvwatch/internal/logging"
	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/probe"
	"github.com/voyagen/iptvwatch/internal/service"
	"github.com/voyagen/iptvwatch/internal/store"
)

const redisConnectTimeout = 5 * time.Second

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		var cfg *config.Config
		var err error
		if path != "" {
			cfg, err = config.LoadFromFile(path)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			c.configErr = fmt.Errorf("config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// app is the wired dependency graph shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     store.Store
	redis     *cache.Redis
	locker    cache.Locker
	metrics   *metrics.Metrics
	scheduler *checker.Scheduler
	jobs      *service.Jobs
}

// openApp loads config and connects storage, plus Redis when configured.
// Logs go to errOut.
func (c *commandContext) openApp(ctx context.Context, errOut io.Writer) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	var log zerolog.Logger
	if f, ok := errOut.(*os.File); ok && f == os.Stderr {
		log = logging.New(cfg.LogLevel)
	} else {
		log = logging.NewWithWriter(errOut, cfg.LogLevel)
	}

	base, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: base, metrics: metrics.New()}
	if cfg.RedisURL != "" {
		rds, err := cache.Connect(ctx, cfg.RedisURL, redisConnectTimeout)
		if err != nil {
			base.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rds
		a.store = store.NewCachedStore(base, rds, log)
		a.locker = cache.NewRedisLocker(rds, cache.DefaultLockTTL)
		log.Debug().Msg("redis connected (caching and shared locks enabled)")
	} else {
		a.locker = cache.NewFileLocker(cfg.LockDir)
	}

	runner := &probe.Runner{
		FFmpeg:           cfg.FFmpeg,
		Timeout:          cfg.ProbeTimeout,
		DefaultUserAgent: cfg.ProbeUserAgent,
		ScratchDir:       cfg.ScratchDir,
		Logger:           log,
		Metrics:          a.metrics,
	}
	a.scheduler = checker.New(a.store, runner, checker.Config{
		MaxWorkers: cfg.MaxWorkers,
		StaleAfter: cfg.StaleAfter,
		ProbeRate:  cfg.ProbeRate,
	}, log, a.metrics)

	a.jobs = &service.Jobs{
		Store:      a.store,
		Locker:     a.locker,
		Scheduler:  a.scheduler,
		Ingest:     a.ingestOptions(),
		CheckBatch: cfg.CheckBatch,
		Retention:  cfg.PruneRetention,
		Redis:      a.redis,
		Logger:     log.With().Str("component", "jobs").Logger(),
		Metrics:    a.metrics,
	}
	return a, nil
}

func (a *app) ingestOptions() service.IngestOptions {
	return service.IngestOptions{
		UserAgent: a.cfg.UserAgent,
		Timeout:   a.cfg.Timeout,
		Parse:     fetcher.DefaultOptions,
		Logger:    a.log.With().Str("component", "ingest").Logger(),
		Metrics:   a.metrics,
	}
}

func (a *app) Close() error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func (c *commandContext) withApp(ctx context.Context, errOut io.Writer, fn func(*app) error) error {
	a, err := c.openApp(ctx, errOut)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
