package app_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"yuno/policy-service/internal/app"
	"yuno/policy-service/internal/config"
	"yuno/policy-service/internal/model"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabaseDriver: config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "policies.db"),
		OntongAPIKey:   "key",
		OntongBaseURL:  "http://127.0.0.1:1",
		OntongTimeout:  time.Second,
		SyncPageSize:   100,
		SyncDelay:      -1,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

func TestBuild_SQLiteWithoutRedis(t *testing.T) {
	cfg := sqliteConfig(t)
	a, err := app.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.History != nil {
		t.Error("History should be nil without REDIS_URL")
	}
	if a.Service == nil || a.Sync == nil || a.Upstream == nil || a.Store == nil {
		t.Fatalf("incomplete app: %+v", a)
	}

	// Upstream is unreachable, so reads come from the (empty) cache.
	page, err := a.Service.GetPolicies(context.Background(), model.Filters{}, 1, 10, model.AgeBounds{})
	if err != nil {
		t.Fatalf("GetPolicies: %v", err)
	}
	if page.Source != model.SourceCache || page.Policies == nil || len(page.Policies) != 0 {
		t.Errorf("page = %+v, want empty cache page", page)
	}
}

func TestBuild_BadSQLitePath(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.SQLitePath = ""
	if _, err := app.Build(context.Background(), cfg, slog.Default()); err == nil {
		t.Error("expected error for empty SQLite path")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.LogFormat = "text"
	cfg.LogLevel = "debug"
	logger, err := app.NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled")
	}

	cfg.LogLevel = "loud"
	if _, err := app.NewLogger(cfg); err == nil {
		t.Error("expected error for unknown level")
	}
}
