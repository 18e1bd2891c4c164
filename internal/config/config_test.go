package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fred-ingest/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FRED_API_KEY", "abc")
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fred.APIKey != "abc" {
		t.Fatalf("legacy FRED_API_KEY not bound: %q", cfg.Fred.APIKey)
	}
	if cfg.RateLimit.Calls != 90 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Dispatch.Concurrency != 20 {
		t.Fatalf("concurrency default = %d", cfg.Dispatch.Concurrency)
	}
	if got := cfg.Fred.EarliestRealtimeTime().Format("2006-01-02"); got != "1776-07-04" {
		t.Fatalf("earliest realtime = %s", got)
	}
	if modes := cfg.Modes(); len(modes) != 1 || modes[0] != model.LatestOnly {
		t.Fatalf("modes = %v", modes)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
sync:
  series: [UNRATE, GDP]
  modes: [latest, all]
tables:
  all: vintages
database:
  driver: sqlite
  dsn: file::memory:
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FREDSYNC_DISPATCH_CONCURRENCY", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sync.Series) != 2 || cfg.Sync.Series[1] != "GDP" {
		t.Fatalf("series = %v", cfg.Sync.Series)
	}
	if cfg.Dispatch.Concurrency != 4 {
		t.Fatalf("env override ignored: %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Tables.Table(model.AllRevisions) != "vintages" || cfg.Tables.Table(model.LatestOnly) != "observations_latest" {
		t.Fatalf("tables = %+v", cfg.Tables)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cases := map[string]string{
		"bad table":   "tables:\n  info: \"drop table;\"\n",
		"bad mode":    "sync:\n  modes: [sometimes]\n",
		"sqlite dsn":  "database:\n  driver: sqlite\n",
		"no telegram": "alerting:\n  telegram:\n    enabled: true\n",
		"bad driver":  "database:\n  driver: oracle\n",
	}
	for name, body := range cases {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestRequireChecks(t *testing.T) {
	var cfg Config
	if err := cfg.RequireAPIKey(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing key should be a configuration error: %v", err)
	}
	cfg.Database.Driver = "postgres"
	if err := cfg.RequireDatabase(); !errors.Is(err, ErrConfiguration) {
		t.Fatal("missing database settings should fail")
	}
	cfg.Database.Host, cfg.Database.User, cfg.Database.Name = "db", "u", "fred"
	if err := cfg.RequireDatabase(); err != nil {
		t.Fatalf("host/user/name should be enough: %v", err)
	}
}

func TestIsIdentifier(t *testing.T) {
	for _, ok := range []string{"series_info", "T1", "_x"} {
		if !IsIdentifier(ok) {
			t.Errorf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"", "1abc", "a-b", "a b", "a;"} {
		if IsIdentifier(bad) {
			t.Errorf("%q should be rejected", bad)
		}
	}
}
