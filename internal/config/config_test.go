package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10d", 240 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{"12h", 12 * time.Hour},
		{"20s", 20 * time.Second},
		{"0", 0},
		{" 2d ", 48 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"xd", "ten", ""} {
		if _, err := ParseDuration(bad); err == nil {
			t.Errorf("ParseDuration(%q) succeeded; want error", bad)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":      "postgres://u:p@db/iptv",
		"CHECK_MAX_WORKERS": "8",
		"PRUNE_RETENTION":   "3d",
		"PROBE_TIMEOUT":     "5s",
		"PROBE_RATE":        "2.5",
		"LOG_LEVEL":         "debug",
	}
	c := Default()
	if err := c.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	c.fillDerived()
	if c.DatabaseURL != env["DATABASE_URL"] || c.MaxWorkers != 8 || c.PruneRetention != 72*time.Hour ||
		c.ProbeTimeout != 5*time.Second || c.ProbeRate != 2.5 || c.LogLevel != "debug" {
		t.Errorf("config = %+v", c)
	}
	if c.LockDir != os.TempDir() {
		t.Errorf("LockDir = %q; want temp dir for postgres", c.LockDir)
	}
	if c.StaleAfter != 12*time.Hour || c.ProbeUserAgent != DefaultProbeUserAgent {
		t.Errorf("defaults lost: %+v", c)
	}
}

func TestApplyEnv_invalid(t *testing.T) {
	for _, env := range []map[string]string{
		{"CHECK_MAX_WORKERS": "many"},
		{"PROBE_TIMEOUT": "soon"},
		{"PROBE_RATE": "fast"},
	} {
		c := Default()
		err := c.applyEnv(func(k string) string { return env[k] })
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("applyEnv(%v) err = %v; want ErrInvalid", env, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"no probe timeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"no database", func(c *Config) { c.DatabaseURL = "" }},
		{"negative rate", func(c *Config) { c.ProbeRate = -1 }},
		{"no retention", func(c *Config) { c.PruneRetention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v; want ErrInvalid", err)
			}
		})
	}
	c := Default()
	if err := c.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadFromFile_yaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iptvwatch.yaml")
	data := `database_url: /var/lib/iptvwatch/playlist.db
max_workers: 4
stale_after: 6h
prune_retention: 7d
probe_user_agent: SmartTV/2.0
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.DatabaseURL != "/var/lib/iptvwatch/playlist.db" || c.MaxWorkers != 4 ||
		c.StaleAfter != 6*time.Hour || c.PruneRetention != 7*24*time.Hour || c.ProbeUserAgent != "SmartTV/2.0" {
		t.Errorf("config = %+v", c)
	}
	if c.LockDir != "/var/lib/iptvwatch" {
		t.Errorf("LockDir = %q; want database directory", c.LockDir)
	}
	if c.ServerPort != "8080" || c.ProbeTimeout != 20*time.Second {
		t.Errorf("defaults lost: %+v", c)
	}
}

func TestLoadFromFile_toml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iptvwatch.toml")
	data := `database_url = "catalog.db"
redis_url = "redis://localhost:6379/0"
check_interval = "30m"
probe_rate = 4.0
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.DatabaseURL != "catalog.db" || c.RedisURL != "redis://localhost:6379/0" ||
		c.CheckInterval != 30*time.Minute || c.ProbeRate != 4 {
		t.Errorf("config = %+v", c)
	}
	if c.LockDir != "." {
		t.Errorf("LockDir = %q; want .", c.LockDir)
	}
}

func TestLoadFromFile_invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("max_workers: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("negative workers err = %v; want ErrInvalid", err)
	}
	ini := filepath.Join(dir, "config.ini")
	if err := os.WriteFile(ini, []byte("x=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(ini); !errors.Is(err, ErrInvalid) {
		t.Errorf("ini err = %v; want ErrInvalid", err)
	}
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
}

func TestParseEnvFile(t *testing.T) {
	data := []byte(`# comment
DATABASE_URL="postgres://u@db/iptv"
export LOG_LEVEL=debug

BROKEN
 CHECK_BATCH = 100
`)
	vars := parseEnvFile(data)
	want := map[string]string{
		"DATABASE_URL": "postgres://u@db/iptv",
		"LOG_LEVEL":    "debug",
		"CHECK_BATCH":  "100",
	}
	if len(vars) != len(want) {
		t.Errorf("vars = %v; want %v", vars, want)
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("%s = %q; want %q", k, vars[k], v)
		}
	}
}
