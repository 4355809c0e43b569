package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/models"
)

// Cache TTLs for different read paths.
const (
	ttlActive  = 1 * time.Minute
	ttlEntries = 1 * time.Minute
	ttlEntry   = 5 * time.Minute
	ttlGroups  = 2 * time.Minute
)

const (
	keyActive      = "iptvwatch:active"
	keyGroups      = "iptvwatch:groups"
	keyEntryFmt    = "iptvwatch:entry:%d"
	keyEntriesFmt  = "iptvwatch:entries:%s"
	patternEntries = "iptvwatch:entries:*"
	patternEntry   = "iptvwatch:entry:*"
)

// CachedStore wraps a Store with a Redis caching layer.
// Read-heavy operations are served from cache when possible;
// write operations invalidate the relevant cache keys.
type CachedStore struct {
	inner  Store
	cache  *cache.Redis
	logger zerolog.Logger
	// flight collapses concurrent misses on one key into a single inner read.
	flight singleflight.Group
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, logger zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, logger: logger.With().Str("component", "cache").Logger()}
}

// --- cached read operations ---

// readThrough serves key from Redis, falling back to load and caching its
// result. Redis failures degrade to a direct read.
func readThrough[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	v, err := cache.Get[T](ctx, c.cache, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}
	res, err, _ := c.flight.Do(key, func() (any, error) {
		loaded, err := load()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (c *CachedStore) SelectActive(ctx context.Context) ([]models.Entry, error) {
	return readThrough(ctx, c, keyActive, ttlActive, func() ([]models.Entry, error) {
		return c.inner.SelectActive(ctx)
	})
}

func (c *CachedStore) GetEntryByID(ctx context.Context, id int64) (*models.Entry, error) {
	return readThrough(ctx, c, fmt.Sprintf(keyEntryFmt, id), ttlEntry, func() (*models.Entry, error) {
		return c.inner.GetEntryByID(ctx, id)
	})
}

// entryListResult caches the ListEntries tuple.
type entryListResult struct {
	Entries []models.Entry `json:"entries"`
	Total   int            `json:"total"`
}

func (c *CachedStore) ListEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, int, error) {
	key := fmt.Sprintf(keyEntriesFmt, filterHash(filter.normalized()))
	res, err := readThrough(ctx, c, key, ttlEntries, func() (entryListResult, error) {
		entries, total, err := c.inner.ListEntries(ctx, filter)
		return entryListResult{Entries: entries, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Entries, res.Total, nil
}

func (c *CachedStore) GroupStats(ctx context.Context) ([]models.GroupStats, error) {
	return readThrough(ctx, c, keyGroups, ttlGroups, func() ([]models.GroupStats, error) {
		return c.inner.GroupStats(ctx)
	})
}

// --- write operations with cache invalidation ---

func (c *CachedStore) Upsert(ctx context.Context, entries []models.Entry) (int, error) {
	n, err := c.inner.Upsert(ctx, entries)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, keyActive, keyGroups)
	c.invalidatePattern(ctx, patternEntries, patternEntry)
	return n, nil
}

func (c *CachedStore) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	if err := c.inner.RecordCheckResult(ctx, id, alive, at); err != nil {
		return err
	}
	c.invalidate(ctx, fmt.Sprintf(keyEntryFmt, id), keyActive, keyGroups)
	c.invalidatePattern(ctx, patternEntries)
	return nil
}

func (c *CachedStore) PruneDead(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := c.inner.PruneDead(ctx, retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, keyGroups)
		c.invalidatePattern(ctx, patternEntries, patternEntry)
	}
	return n, nil
}

// ResultWriter drops the per-entry key on every write and the list caches
// once the worker is done.
func (c *CachedStore) ResultWriter(ctx context.Context) (ResultWriter, error) {
	w, err := c.inner.ResultWriter(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedResultWriter{inner: w, parent: c}, nil
}

type cachedResultWriter struct {
	inner  ResultWriter
	parent *CachedStore
	dirty  bool
}

func (w *cachedResultWriter) RecordCheckResult(ctx context.Context, id int64, alive bool, at time.Time) error {
	if err := w.inner.RecordCheckResult(ctx, id, alive, at); err != nil {
		return err
	}
	w.dirty = true
	w.parent.invalidate(ctx, fmt.Sprintf(keyEntryFmt, id))
	return nil
}

func (w *cachedResultWriter) Close() error {
	if w.dirty {
		ctx := context.Background()
		w.parent.invalidate(ctx, keyActive, keyGroups)
		w.parent.invalidatePattern(ctx, patternEntries)
	}
	return w.inner.Close()
}

// --- passthrough (no caching) ---

func (c *CachedStore) SelectStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Entry, error) {
	return c.inner.SelectStale(ctx, limit, staleAfter)
}

func (c *CachedStore) Close() error {
	return c.inner.Close()
}

// --- helpers ---

func (c *CachedStore) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("cache del failed")
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			c.logger.Warn().Err(err).Str("pattern", p).Msg("cache del pattern failed")
		}
	}
}

// filterHash produces a short deterministic hash for an EntryFilter so it
// can be used as part of a cache key.
func filterHash(f EntryFilter) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%d", f.Status, f.Group, f.Search, f.Limit, f.Offset)
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}
