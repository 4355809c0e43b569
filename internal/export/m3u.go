// Package export serializes active catalog entries back into M3U form.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/voyagen/iptvwatch/internal/models"
)

// minUserAgentLen is the shortest user-agent worth writing as a client option.
const minUserAgentLen = 5

// WriteM3U writes one record per entry in the given order: an EXTINF line, an
// optional EXTVLCOPT user-agent line, and the URL. No #EXTM3U header is written.
func WriteM3U(w io.Writer, entries []models.Entry) error {
	bw := bufio.NewWriter(w)
	for i := range entries {
		e := &entries[i]
		fmt.Fprintf(bw, "#EXTINF:-1 group-title=\"%s\" tvg-logo=\"%s\",%s\n", e.Group, e.IconValue(), e.Name)
		if ua := e.UserAgentValue(); len(ua) >= minUserAgentLen {
			fmt.Fprintf(bw, "#EXTVLCOPT:http-user-agent=%s\n", ua)
		}
		if _, err := fmt.Fprintf(bw, "%s\n", e.URL); err != nil {
			return fmt.Errorf("write entry %d: %w", e.ID, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes entries to path via a temp file and rename, so players
// reading the playlist never see a partial file.
func WriteFile(path string, entries []models.Entry) error {
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".playlist-*.m3u.tmp")
	if err != nil {
		return fmt.Errorf("export: create temp: %w", err)
	}
	tmpName := tmp.Name()
	writeErr := WriteM3U(tmp, entries)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("export: write: %w", writeErr)
		}
		return fmt.Errorf("export: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("export: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("export: rename: %w", err)
	}
	return nil
}
