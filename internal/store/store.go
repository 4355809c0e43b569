package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voyagen/iptvwatch/internal/models"
)

// ErrNotFound is returned when a lookup or update targets a missing entry.
var ErrNotFound = errors.New("entry not found")

// Store is the durable catalog of playlist entries keyed by URL.
type Store interface {
	// Upsert inserts entries with unseen URLs and refreshes name, group, icon and
	// user agent of known ones. Liveness columns are never touched. Returns the
	// number of new rows.
	Upsert(ctx context.Context, entries []models.Entry) (int, error)
	// SelectStale returns up to limit entries never checked or last checked more
	// than staleAfter ago, never-checked first.
	SelectStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Entry, error)
	// RecordCheckResult stores one probe outcome. A success advances lastonline;
	// a failure leaves it alone.
	RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error
	// ResultWriter opens a dedicated connection for one check worker.
	ResultWriter(ctx context.Context) (ResultWriter, error)
	// SelectActive returns entries whose last probe succeeded, ordered by group then name.
	SelectActive(ctx context.Context) ([]models.Entry, error)
	// PruneDead deletes, in one statement, entries that failed their last probe and
	// have not been online within retention. Returns the number deleted.
	PruneDead(ctx context.Context, retention time.Duration) (int64, error)

	// GetEntryByID returns a single entry or ErrNotFound.
	GetEntryByID(ctx context.Context, id int64) (*models.Entry, error)
	// ListEntries returns entries matching the filter and the total count (before limit/offset).
	ListEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, int, error)
	// GroupStats returns per-group liveness counts ordered by group name.
	GroupStats(ctx context.Context) ([]models.GroupStats, error)

	Close() error
}

// ResultWriter records probe outcomes over a connection owned by one worker.
type ResultWriter interface {
	RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error
	Close() error
}

// EntryFilter holds optional filters for listing entries.
type EntryFilter struct {
	Status models.Status // empty = any
	Group  string
	Search string // case-insensitive substring match on name
	Limit  int    // default 50, max 200
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// normalized clamps limit and offset into their allowed ranges.
func (f EntryFilter) normalized() EntryFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Option configures a store backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock used to compute stale and prune cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open migrates and opens the backend addressed by dsn: a postgres:// URL
// selects PostgreSQL, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	if IsPostgresDSN(dsn) {
		if err := RunPostgresMigrations(dsn); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return NewPostgres(ctx, dsn, opts...)
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if err := RunSQLiteMigrations(path); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return NewSQLite(ctx, path, opts...)
}
