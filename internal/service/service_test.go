package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/checker"
	"github.com/voyagen/iptvwatch/internal/fetcher"
	"github.com/voyagen/iptvwatch/internal/store"
)

const playlist = `#EXTM3U
#EXTINF:-1 group-title="Спорт HD" tvg-logo="http://logo/sport.png",Sport One (HD)
#EXTVLCOPT:http-user-agent=SmartTV/2.0
http://e/sport
#EXTINF:-1 group-title="Музыкальные",Music Box [backup]
http://e/music
#EXTINF:-1,Junk
http://e/50na50/junk
#EXTINF:-1 group-title="",Nameless Group
http://e/misc
`

func newStore(t *testing.T, now func() time.Time) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "playlist.db"), store.WithClock(now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func playlistServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list.m3u" {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(playlist))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ingestOpts() IngestOptions {
	return IngestOptions{UserAgent: "iptvwatch-test", Timeout: 5 * time.Second, Parse: fetcher.DefaultOptions, Logger: zerolog.Nop()}
}

type urlProber map[string]bool

func (p urlProber) Probe(_ context.Context, _ int, url, _ string) bool { return p[url] }

func TestIngest_idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, time.Now)
	srv := playlistServer(t)

	res, err := Ingest(ctx, s, srv.URL+"/list.m3u", ingestOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Parsed != 3 || res.Inserted != 3 || res.Discarded != 1 || res.FetchErr != nil {
		t.Errorf("first ingest = %+v", res)
	}
	res, err = Ingest(ctx, s, srv.URL+"/list.m3u", ingestOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 {
		t.Errorf("second ingest inserted %d; want 0", res.Inserted)
	}

	entries, total, err := s.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("catalog has %d entries; want 3", total)
	}
	got := map[string]string{}
	for _, e := range entries {
		got[e.URL] = e.Group + "/" + e.Name
	}
	want := map[string]string{
		"http://e/sport": "Спортивные/Sport One",
		"http://e/music": "Музыка/Music Box",
		"http://e/misc":  "Разное/Nameless Group",
	}
	for url, w := range want {
		if got[url] != w {
			t.Errorf("%s = %q; want %q", url, got[url], w)
		}
	}
}

func TestIngest_fetchFailureIsReported(t *testing.T) {
	s := newStore(t, time.Now)
	srv := playlistServer(t)
	res, err := Ingest(context.Background(), s, srv.URL+"/broken.m3u", ingestOpts())
	if err != nil {
		t.Fatalf("Ingest returned error %v; want it reported in the result", err)
	}
	if res.FetchErr == nil || res.FetchError == "" || res.Inserted != 0 || res.Parsed != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngest_oversizedLineKeepsRestOfPlaylist(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, time.Now)
	path := filepath.Join(t.TempDir(), "big.m3u")
	body := "#EXTINF:-1,A\nhttp://e/a\n" + strings.Repeat("z", 2<<20) + "\n#EXTINF:-1,B\nhttp://e/b\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := Ingest(ctx, s, path, ingestOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.FetchErr != nil || res.Parsed != 2 || res.Inserted != 2 || res.Discarded != 1 {
		t.Errorf("ingest = %+v", res)
	}
}

func TestIngest_requiresSource(t *testing.T) {
	s := newStore(t, time.Now)
	if _, err := Ingest(context.Background(), s, "", ingestOpts()); !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v; want ErrNoSource", err)
	}
}

func TestCheckThenExport(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, time.Now)
	srv := playlistServer(t)
	if _, err := Ingest(ctx, s, srv.URL+"/list.m3u", ingestOpts()); err != nil {
		t.Fatal(err)
	}

	prober := urlProber{"http://e/sport": true, "http://e/music": true}
	sched := checker.New(s, prober, checker.Config{MaxWorkers: 2, StaleAfter: 12 * time.Hour}, zerolog.Nop(), nil)
	locker := cache.NewFileLocker(t.TempDir())

	sum, err := RunCheck(ctx, locker, sched, 100)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Selected != 3 || sum.Alive != 2 || sum.Dead != 1 || sum.Workers != 2 {
		t.Errorf("summary = %+v", sum)
	}

	// Everything was just checked, so nothing is stale any more.
	sum, err = RunCheck(ctx, locker, sched, 100)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Selected != 0 {
		t.Errorf("second cycle selected %d; want 0", sum.Selected)
	}

	var buf bytes.Buffer
	n, err := Export(ctx, s, &buf)
	if err != nil {
		t.Fatal(err)
	}
	want := `#EXTINF:-1 group-title="Музыка" tvg-logo="",Music Box
http://e/music
#EXTINF:-1 group-title="Спортивные" tvg-logo="http://logo/sport.png",Sport One
#EXTVLCOPT:http-user-agent=SmartTV/2.0
http://e/sport
`
	if n != 2 || buf.String() != want {
		t.Errorf("export (%d entries):\n%s\nwant:\n%s", n, buf.String(), want)
	}

	path := filepath.Join(t.TempDir(), "live.m3u")
	if n, err := ExportFile(ctx, s, path); err != nil || n != 2 {
		t.Errorf("ExportFile = %d, %v", n, err)
	}
}

func TestRunCheck_lockHeld(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, time.Now)
	locker := cache.NewFileLocker(t.TempDir())
	unlock, err := locker.TryLock(ctx, cache.LockCheck)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	sched := checker.New(s, urlProber{}, checker.Config{MaxWorkers: 2}, zerolog.Nop(), nil)
	if _, err := RunCheck(ctx, locker, sched, 10); !errors.Is(err, cache.ErrLocked) {
		t.Errorf("err = %v; want ErrLocked", err)
	}
}

func TestPrune_afterRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	clock := now
	s := newStore(t, func() time.Time { return clock })
	srv := playlistServer(t)
	if _, err := Ingest(ctx, s, srv.URL+"/list.m3u", ingestOpts()); err != nil {
		t.Fatal(err)
	}

	// Music was online eleven days ago and has been dead since.
	entries, _, err := s.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		switch e.URL {
		case "http://e/music":
			if err := s.RecordCheckResult(ctx, e.ID, true, now.Add(-11*24*time.Hour)); err != nil {
				t.Fatal(err)
			}
			if err := s.RecordCheckResult(ctx, e.ID, false, now); err != nil {
				t.Fatal(err)
			}
		case "http://e/sport":
			if err := s.RecordCheckResult(ctx, e.ID, true, now); err != nil {
				t.Fatal(err)
			}
		}
	}

	locker := cache.NewFileLocker(t.TempDir())
	n, err := Prune(ctx, locker, s, 10*24*time.Hour, zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d; want 1", n)
	}
	_, total, _ := s.ListEntries(ctx, store.EntryFilter{})
	if total != 2 {
		t.Errorf("%d entries left; want 2 (alive + unchecked)", total)
	}

	var buf bytes.Buffer
	if _, err := Export(ctx, s, &buf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "http://e/music") {
		t.Error("pruned entry exported")
	}
}
