// Package service composes fetching, the catalog store and the checker into
// the operations exposed by the CLI and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/fetcher"
	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/store"
)

// ErrNoSource is returned when Ingest is called without a playlist location.
var ErrNoSource = errors.New("playlist URL or path is required")

// IngestOptions configures playlist fetching and parsing.
type IngestOptions struct {
	UserAgent string
	Timeout   time.Duration
	Parse     fetcher.Options
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// IngestResult reports one ingest run. A fetch failure is not an error: it
// leaves Parsed and Inserted at zero and sets FetchErr.
type IngestResult struct {
	Source     string `json:"source"`
	Parsed     int    `json:"parsed"`
	Discarded  int    `json:"discarded"`
	Inserted   int    `json:"inserted"`
	FetchErr   error  `json:"-"`
	FetchError string `json:"fetch_error,omitempty"`
}

// Ingest fetches the playlist at src (URL or local path), normalizes it and
// upserts every entry. Re-ingesting refreshes metadata of known URLs and never
// touches their liveness.
func Ingest(ctx context.Context, s store.Store, src string, opts IngestOptions) (IngestResult, error) {
	res := IngestResult{Source: src}
	if src == "" {
		return res, ErrNoSource
	}
	log := opts.Logger.With().Str("source", src).Logger()

	entries, stats, err := fetcher.FetchM3U(ctx, src, opts.UserAgent, opts.Timeout, opts.Parse)
	if err != nil {
		log.Warn().Err(err).Msg("fetch playlist failed")
		res.FetchErr = err
		res.FetchError = err.Error()
		return res, nil
	}
	res.Parsed = len(entries)
	res.Discarded = stats.Discarded

	inserted, err := s.Upsert(ctx, entries)
	if err != nil {
		return res, fmt.Errorf("Upsert: %w", err)
	}
	res.Inserted = inserted
	opts.Metrics.AddIngested(inserted)
	log.Info().
		Int("parsed", res.Parsed).
		Int("discarded", stats.Discarded).
		Int("stray_urls", stats.StrayURLs).
		Int("inserted", inserted).
		Msg("playlist ingested")
	return res, nil
}
