package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"
)

func TestFetchM3U_http(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:-1,Live From Server\nhttp://upstream.example/live\n"
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	entries, stats, err := FetchM3U(context.Background(), srv.URL, "iptvwatch-test", 5*time.Second, DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "Live From Server" {
		t.Fatalf("entries = %+v", entries)
	}
	if stats.Entries != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if gotUA != "iptvwatch-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestFetchPlaylist_badStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	text, err := FetchPlaylist(context.Background(), srv.URL, "", 5*time.Second)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if text != "" {
		t.Errorf("text = %q; want empty", text)
	}
}

func TestFetchPlaylist_localFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.m3u")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("#EXTINF:-1,Local\nhttp://e/local\n")...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	text, err := FetchPlaylist(context.Background(), path, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if text != "#EXTINF:-1,Local\nhttp://e/local\n" {
		t.Errorf("text = %q", text)
	}
}

func TestFetchPlaylist_missingFile(t *testing.T) {
	if _, err := FetchPlaylist(context.Background(), filepath.Join(t.TempDir(), "nope.m3u"), "", time.Second); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDecodeBody_windows1251(t *testing.T) {
	src := "#EXTINF:-1 group-title=\"Спорт\",Матч\nhttp://e/m\n"
	encoded, err := charmap.Windows1251.NewEncoder().String(src)
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeBody([]byte(encoded)); got != src {
		t.Errorf("decodeBody = %q; want %q", got, src)
	}
}
