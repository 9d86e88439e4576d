package config_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"yuno/policy-service/internal/config"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("ONTONG_API_KEY", "key")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/yuno")
}

func TestLoad_Defaults(t *testing.T) {
	setBase(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8083" || cfg.GRPCPort != "9093" {
		t.Errorf("ports = %s/%s, want 8083/9093", cfg.Port, cfg.GRPCPort)
	}
	if cfg.SyncPageSize != 100 || cfg.SyncDelay != time.Second || cfg.SyncIntervalHours != 24 {
		t.Errorf("sync = %d/%v/%d, want 100/1s/24", cfg.SyncPageSize, cfg.SyncDelay, cfg.SyncIntervalHours)
	}
	if cfg.OntongTimeout != 10*time.Second {
		t.Errorf("OntongTimeout = %v, want 10s", cfg.OntongTimeout)
	}
	if cfg.SyncOnStartup {
		t.Error("SYNC_ON_STARTUP should default to false")
	}
	if !cfg.OTelEnabled || cfg.OTelEndpoint != "" {
		t.Errorf("otel = %v/%q, want enabled with no endpoint", cfg.OTelEnabled, cfg.OTelEndpoint)
	}
	lvl, err := cfg.SlogLevel()
	if err != nil || lvl != slog.LevelInfo {
		t.Errorf("SlogLevel = %v, %v", lvl, err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setBase(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SYNC_DELAY", "250ms")
	t.Setenv("SYNC_ON_STARTUP", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" || cfg.SyncDelay != 250*time.Millisecond || !cfg.SyncOnStartup {
		t.Errorf("cfg = %+v", cfg)
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lvl)
	}
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	setBase(t)
	t.Setenv("ONTONG_API_KEY", "")

	_, err := config.Load()
	if err == nil || !strings.Contains(err.Error(), "ONTONG_API_KEY") {
		t.Errorf("err = %v, want ONTONG_API_KEY error", err)
	}
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	setBase(t)
	t.Setenv("DATABASE_URL", "")

	if _, err := config.Load(); err == nil {
		t.Error("expected DATABASE_URL error")
	}
}

func TestLoad_SQLiteDriver(t *testing.T) {
	setBase(t)
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "/tmp/p.db")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseDriver != config.DriverSQLite || cfg.SQLitePath != "/tmp/p.db" {
		t.Errorf("driver=%q path=%q", cfg.DatabaseDriver, cfg.SQLitePath)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DATABASE_DRIVER":     "mysql",
		"SYNC_PAGE_SIZE":      "0",
		"SYNC_INTERVAL_HOURS": "-1",
		"LOG_LEVEL":           "loud",
		"LOG_FORMAT":          "xml",
		"SYNC_DELAY":          "soon",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setBase(t)
			t.Setenv(key, val)
			if _, err := config.Load(); err == nil {
				t.Errorf("%s=%q accepted", key, val)
			}
		})
	}
}
