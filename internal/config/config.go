package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultProbeUserAgent is sent to streams that carry no usable user agent of their own.
const DefaultProbeUserAgent = "Mozilla/5.0 WINK/1.31.1 (AndroidTV/9) HlsWinkPlayer"

// Config holds application configuration.
type Config struct {
	DatabaseURL string
	RedisURL    string
	ServerPort  string

	// Playlist fetching.
	UserAgent string
	Timeout   time.Duration

	// Check cycles.
	MaxWorkers     int
	StaleAfter     time.Duration
	CheckBatch     int
	CheckInterval  time.Duration
	PruneRetention time.Duration

	// Decoder probe.
	ProbeTimeout   time.Duration
	ProbeUserAgent string
	FFmpeg         string
	ScratchDir     string
	ProbeRate      float64

	LockDir  string
	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DatabaseURL:    "playlist.db",
		ServerPort:     "8080",
		UserAgent:      "iptvwatch/1.0",
		Timeout:        30 * time.Second,
		MaxWorkers:     20,
		StaleAfter:     12 * time.Hour,
		CheckBatch:     500,
		PruneRetention: 10 * 24 * time.Hour,
		ProbeTimeout:   20 * time.Second,
		ProbeUserAgent: DefaultProbeUserAgent,
		FFmpeg:         "ffmpeg",
		ScratchDir:     os.TempDir(),
		LogLevel:       "info",
	}
}

// Load builds config from environment variables on top of Default.
// Variables from .env.local and .env fill in anything not already set.
func Load() (*Config, error) {
	loadEnvFiles()
	c := Default()
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"DATABASE_URL", &c.DatabaseURL},
		{"REDIS_URL", &c.RedisURL},
		{"SERVER_PORT", &c.ServerPort},
		{"FETCHER_USER_AGENT", &c.UserAgent},
		{"PROBE_USER_AGENT", &c.ProbeUserAgent},
		{"PROBE_FFMPEG", &c.FFmpeg},
		{"PROBE_SCRATCH_DIR", &c.ScratchDir},
		{"LOCK_DIR", &c.LockDir},
		{"LOG_LEVEL", &c.LogLevel},
	}
	for _, s := range strs {
		if v := getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	durs := []struct {
		env string
		dst *time.Duration
	}{
		{"FETCHER_TIMEOUT", &c.Timeout},
		{"CHECK_STALE_AFTER", &c.StaleAfter},
		{"CHECK_INTERVAL", &c.CheckInterval},
		{"PRUNE_RETENTION", &c.PruneRetention},
		{"PROBE_TIMEOUT", &c.ProbeTimeout},
	}
	for _, d := range durs {
		v := getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.env, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"CHECK_MAX_WORKERS", &c.MaxWorkers},
		{"CHECK_BATCH", &c.CheckBatch},
	}
	for _, i := range ints {
		v := getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, i.env, err)
		}
		*i.dst = n
	}

	if v := getenv("PROBE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: PROBE_RATE: %v", ErrInvalid, err)
		}
		c.ProbeRate = f
	}
	return nil
}

// fillDerived sets defaults that depend on other fields.
func (c *Config) fillDerived() {
	if c.LockDir != "" {
		return
	}
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		c.LockDir = os.TempDir()
		return
	}
	path := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
	c.LockDir = filepath.Dir(path)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url must be set", ErrInvalid)
	case c.MaxWorkers <= 0:
		return fmt.Errorf("%w: max_workers must be positive", ErrInvalid)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("%w: probe_timeout must be positive", ErrInvalid)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalid)
	case c.StaleAfter < 0:
		return fmt.Errorf("%w: stale_after must not be negative", ErrInvalid)
	case c.PruneRetention <= 0:
		return fmt.Errorf("%w: prune_retention must be positive", ErrInvalid)
	case c.CheckBatch < 0:
		return fmt.Errorf("%w: check_batch must not be negative", ErrInvalid)
	case c.CheckInterval < 0:
		return fmt.Errorf("%w: check_interval must not be negative", ErrInvalid)
	case c.ProbeRate < 0:
		return fmt.Errorf("%w: probe_rate must not be negative", ErrInvalid)
	case c.FFmpeg == "":
		return fmt.Errorf("%w: probe_ffmpeg must be set", ErrInvalid)
	}
	return nil
}

// ParseDuration accepts Go duration syntax plus a "d" suffix for whole or
// fractional days, e.g. "10d" or "1.5d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	if s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
