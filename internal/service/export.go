package service

import (
	"context"
	"fmt"
	"io"

	"github.com/voyagen/iptvwatch/internal/export"
	"github.com/voyagen/iptvwatch/internal/store"
)

// Export writes every active entry to w as M3U, ordered by group then name.
// It returns the number of entries written.
func Export(ctx context.Context, s store.Store, w io.Writer) (int, error) {
	entries, err := s.SelectActive(ctx)
	if err != nil {
		return 0, err
	}
	if err := export.WriteM3U(w, entries); err != nil {
		return 0, fmt.Errorf("write m3u: %w", err)
	}
	return len(entries), nil
}

// ExportFile is Export to a file, replaced atomically.
func ExportFile(ctx context.Context, s store.Store, path string) (int, error) {
	entries, err := s.SelectActive(ctx)
	if err != nil {
		return 0, err
	}
	if err := export.WriteFile(path, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
