// Package probe decides stream liveness by asking ffmpeg to decode one frame.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/iptvwatch/internal/metrics"
)

// minUserAgentLen is the shortest per-entry user agent used as-is.
const minUserAgentLen = 5

// waitDelay bounds how long Wait blocks on inherited pipes after a kill.
const waitDelay = 2 * time.Second

// Result holds the outcome of a single ffmpeg invocation.
type Result struct {
	Alive    bool
	TimedOut bool
	Duration time.Duration
	Stderr   string
	Err      error
}

// Runner launches one decoder subprocess per probe under a hard timeout.
// It never retries.
type Runner struct {
	FFmpeg           string
	Timeout          time.Duration
	DefaultUserAgent string
	ScratchDir       string
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

// UserAgent returns ua, or the default when ua is too short to be a real one.
func (r *Runner) UserAgent(ua string) string {
	if len(ua) < minUserAgentLen {
		return r.DefaultUserAgent
	}
	return ua
}

// ScratchPath is the frame output file owned by worker.
func (r *Runner) ScratchPath(worker int) string {
	dir := r.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, strconv.Itoa(worker)+".jpg")
}

// Args builds the decoder command line (without the binary).
func (r *Runner) Args(worker int, url, userAgent string) []string {
	return []string{
		"-y", "-v", "0",
		"-user_agent", r.UserAgent(userAgent),
		"-i", url,
		"-frames:v", "1",
		"-q:v", "20",
		r.ScratchPath(worker),
	}
}

// Probe reports whether url yielded a frame within the timeout.
func (r *Runner) Probe(ctx context.Context, worker int, url, userAgent string) bool {
	return r.Run(ctx, worker, url, userAgent).Alive
}

// Run executes one probe. Exit status 0 is alive; a non-zero exit, a kill on
// timeout or a failure to start are all dead.
func (r *Runner) Run(ctx context.Context, worker int, url, userAgent string) Result {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.FFmpeg, r.Args(worker, url, userAgent)...)
	cmd.WaitDelay = waitDelay
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Alive:    err == nil,
		Duration: time.Since(start),
		Stderr:   stderrBuf.String(),
		Err:      err,
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.Err = fmt.Errorf("probe timed out after %s: %w", r.Timeout, err)
	}
	_ = os.Remove(r.ScratchPath(worker))

	r.Metrics.ObserveProbe(res.Alive, res.Duration)
	ev := r.Logger.Debug()
	if res.Err != nil {
		ev = ev.Err(res.Err).Bool("timed_out", res.TimedOut)
	}
	ev.Int("worker", worker).Str("url", url).Bool("alive", res.Alive).Dur("took", res.Duration).Msg("probe finished")
	return res
}
