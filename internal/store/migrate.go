package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const (
	migrateUp   = "-- +migrate Up"
	migrateDown = "-- +migrate Down"
)

// migrator is the per-backend half of the schema_migrations ledger.
type migrator interface {
	ensureLedger(ctx context.Context) error
	isApplied(ctx context.Context, name string) (bool, error)
	apply(ctx context.Context, name, body string) error
}

// applyMigrations runs every .sql file under dir in lexical order, at most
// once per file name.
func applyMigrations(ctx context.Context, m migrator, fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if err := m.ensureLedger(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		name := path.Join(dir, file)
		applied, err := m.isApplied(ctx, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		if err := m.apply(ctx, name, up); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers, or the whole
// file when it has no Up marker.
func upSection(content string) string {
	i := strings.Index(content, migrateUp)
	if i == -1 {
		return content
	}
	content = content[i+len(migrateUp):]
	if j := strings.Index(content, migrateDown); j != -1 {
		content = content[:j]
	}
	return content
}
