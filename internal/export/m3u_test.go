package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voyagen/iptvwatch/internal/fetcher"
	"github.com/voyagen/iptvwatch/internal/models"
)

func strPtr(s string) *string { return &s }

func TestWriteM3U_format(t *testing.T) {
	entries := []models.Entry{
		{Name: "A", Group: "Музыка", Icon: strPtr("http://logo/a.png"), URL: "http://e/a", UserAgent: strPtr("Mozilla/5.0")},
		{Name: "B", Group: "Спортивные", URL: "http://e/b", UserAgent: strPtr("abcd")},
	}
	var buf bytes.Buffer
	if err := WriteM3U(&buf, entries); err != nil {
		t.Fatal(err)
	}
	want := `#EXTINF:-1 group-title="Музыка" tvg-logo="http://logo/a.png",A
#EXTVLCOPT:http-user-agent=Mozilla/5.0
http://e/a
#EXTINF:-1 group-title="Спортивные" tvg-logo="",B
http://e/b
`
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
	if strings.HasPrefix(buf.String(), "#EXTM3U") {
		t.Error("no file header expected")
	}
}

func TestWriteM3U_empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteM3U(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty output; got %q", buf.String())
	}
}

// Exported playlists must parse back into the same records.
func TestWriteM3U_roundTrip(t *testing.T) {
	entries := []models.Entry{
		{Name: "Первый", Group: models.GroupPublic, Icon: strPtr("http://logo/1.png"), URL: "http://e/1"},
		{Name: "Kids", Group: models.GroupKids, URL: "rtmp://e/2", UserAgent: strPtr("SmartTV/2.0")},
	}
	var buf bytes.Buffer
	if err := WriteM3U(&buf, entries); err != nil {
		t.Fatal(err)
	}
	parsed, _, err := fetcher.ParseM3U(&buf, fetcher.DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != len(entries) {
		t.Fatalf("parsed %d entries; want %d", len(parsed), len(entries))
	}
	for i := range entries {
		got, want := parsed[i], entries[i]
		if got.Name != want.Name || got.Group != want.Group || got.URL != want.URL ||
			got.IconValue() != want.IconValue() || got.UserAgentValue() != want.UserAgentValue() {
			t.Errorf("parsed[%d] = %+v; want %+v", i, got, want)
		}
	}
}

func TestWriteFile_atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.m3u")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	entries := []models.Entry{{Name: "A", Group: "G", URL: "http://e/a"}}
	if err := WriteFile(path, entries); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "http://e/a\n") {
		t.Errorf("file = %q", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".playlist-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}
