package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/voyagen/iptvwatch/internal/models"
)

const maxPlaylistSize = 64 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FetchM3U fetches the playlist at src and parses it.
// src is an http(s) URL or a local file path.
func FetchM3U(ctx context.Context, src, userAgent string, timeout time.Duration, opts Options) ([]models.Entry, Stats, error) {
	text, err := FetchPlaylist(ctx, src, userAgent, timeout)
	if err != nil {
		return nil, Stats{}, err
	}
	return ParseM3U(strings.NewReader(text), opts)
}

// FetchPlaylist returns the playlist text at src. Any non-2xx response is an error.
func FetchPlaylist(ctx context.Context, src, userAgent string, timeout time.Duration) (string, error) {
	if !isRemote(src) {
		body, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("ReadFile: %w", err)
		}
		return decodeBody(body), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("NewRequest: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("ReadAll: %w", err)
	}
	return decodeBody(body), nil
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// decodeBody returns body as UTF-8. Playlists that are not valid UTF-8 are
// assumed to be Windows-1251, the usual legacy charset for these lists.
func decodeBody(body []byte) string {
	body = bytes.TrimPrefix(body, utf8BOM)
	if utf8.Valid(body) {
		return string(body)
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}
