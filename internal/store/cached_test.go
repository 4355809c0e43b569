package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
)

// newUnreachableCache points at a closed port with retries off, so every
// Redis call fails fast.
func newUnreachableCache(t *testing.T) *cache.Redis {
	t.Helper()
	r, err := cache.New("redis://127.0.0.1:1/0?max_retries=-1&dial_timeout=200ms")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCachedStore_degradesToInner(t *testing.T) {
	ctx := context.Background()
	c := NewCachedStore(newTestSQLite(t, fixedClock()), newUnreachableCache(t), zerolog.Nop())

	if n := mustUpsert(t, c, entry("A", "Music", "http://e/a"), entry("B", "News", "http://e/b")); n != 2 {
		t.Fatalf("inserted = %d; want 2", n)
	}
	id := idByURL(t, c, "http://e/a")
	if err := c.RecordCheckResult(ctx, id, true, baseTime); err != nil {
		t.Fatal(err)
	}

	active, err := c.SelectActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].URL != "http://e/a" {
		t.Errorf("active = %+v", active)
	}
	e, err := c.GetEntryByID(ctx, id)
	if err != nil || e.Name != "A" {
		t.Errorf("GetEntryByID = %+v, %v", e, err)
	}
	if _, err := c.GetEntryByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id err = %v; want ErrNotFound", err)
	}
	groups, err := c.GroupStats(ctx)
	if err != nil || len(groups) != 2 {
		t.Errorf("GroupStats = %+v, %v", groups, err)
	}
}

func TestCachedStore_concurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := NewCachedStore(newTestSQLite(t, fixedClock()), newUnreachableCache(t), zerolog.Nop())
	mustUpsert(t, c, entry("A", "Music", "http://e/a"), entry("B", "Music", "http://e/b"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Go(func() {
			entries, total, err := c.ListEntries(ctx, EntryFilter{Group: "Music"})
			switch {
			case err != nil:
				errs <- err
			case total != 2 || len(entries) != 2:
				errs <- errors.New("wrong page")
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
