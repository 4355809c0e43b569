package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL    string  `yaml:"database_url" toml:"database_url"`
	RedisURL       string  `yaml:"redis_url" toml:"redis_url"`
	ServerPort     string  `yaml:"server_port" toml:"server_port"`
	UserAgent      string  `yaml:"user_agent" toml:"user_agent"`
	Timeout        string  `yaml:"timeout" toml:"timeout"`
	MaxWorkers     int     `yaml:"max_workers" toml:"max_workers"`
	StaleAfter     string  `yaml:"stale_after" toml:"stale_after"`
	CheckBatch     int     `yaml:"check_batch" toml:"check_batch"`
	CheckInterval  string  `yaml:"check_interval" toml:"check_interval"`
	PruneRetention string  `yaml:"prune_retention" toml:"prune_retention"`
	ProbeTimeout   string  `yaml:"probe_timeout" toml:"probe_timeout"`
	ProbeUserAgent string  `yaml:"probe_user_agent" toml:"probe_user_agent"`
	ProbeFFmpeg    string  `yaml:"probe_ffmpeg" toml:"probe_ffmpeg"`
	ProbeScratch   string  `yaml:"probe_scratch_dir" toml:"probe_scratch_dir"`
	ProbeRate      float64 `yaml:"probe_rate" toml:"probe_rate"`
	LockDir        string  `yaml:"lock_dir" toml:"lock_dir"`
	LogLevel       string  `yaml:"log_level" toml:"log_level"`
}

// LoadFromFile loads config from a YAML or TOML file (chosen by extension)
// on top of Default. Keys absent from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &f)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := Default()
	if err := f.apply(&c); err != nil {
		return nil, err
	}
	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (f *fileConfig) apply(c *Config) error {
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.ServerPort, f.ServerPort)
	setString(&c.UserAgent, f.UserAgent)
	setString(&c.ProbeUserAgent, f.ProbeUserAgent)
	setString(&c.FFmpeg, f.ProbeFFmpeg)
	setString(&c.ScratchDir, f.ProbeScratch)
	setString(&c.LockDir, f.LockDir)
	setString(&c.LogLevel, f.LogLevel)
	if f.MaxWorkers != 0 {
		c.MaxWorkers = f.MaxWorkers
	}
	if f.CheckBatch != 0 {
		c.CheckBatch = f.CheckBatch
	}
	if f.ProbeRate != 0 {
		c.ProbeRate = f.ProbeRate
	}

	durs := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", f.Timeout, &c.Timeout},
		{"stale_after", f.StaleAfter, &c.StaleAfter},
		{"check_interval", f.CheckInterval, &c.CheckInterval},
		{"prune_retention", f.PruneRetention, &c.PruneRetention},
		{"probe_timeout", f.ProbeTimeout, &c.ProbeTimeout},
	}
	for _, d := range durs {
		if d.raw == "" {
			continue
		}
		parsed, err := ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
