package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/store/migrations"
)

// SQLiteStore is the embedded backend. JSON columns are TEXT, dates are
// "YYYY-MM-DD" TEXT and timestamps are Unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded SQLite migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := applyMigrations(ctx, s, migrations.FS, migrations.SQLiteDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertBatch has the same semantics as PostgresStore.UpsertBatch.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, policies []model.Policy) error {
	if len(policies) == 0 {
		return nil
	}
	now := s.now()
	batches := chunks(dedupe(policies))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert policies: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, batch := range batches {
		args := make([]any, 0, len(batch)*len(insertColumns))
		for _, p := range batch {
			row, err := sqliteArgs(p, now)
			if err != nil {
				return fmt.Errorf("upsert policies: policy %s: %w", p.ID, err)
			}
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL(SQLite, len(batch)), args...); err != nil {
			return fmt.Errorf("upsert policies: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert policies: commit: %w", err)
	}
	return nil
}

// QueryCached has the same semantics as PostgresStore.QueryCached.
func (s *SQLiteStore) QueryCached(ctx context.Context, f model.Filters, page, pageSize int) (model.PolicyPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	where, args := CachedFilter(f).Build(SQLite)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policies WHERE "+where, args...).Scan(&total); err != nil {
		return model.PolicyPage{}, fmt.Errorf("count cached policies: %w", err)
	}

	out := emptyPage(page, pageSize, model.SourceCache)
	out.Pagination.Total = total
	out.Pagination.HasNext = offset+pageSize < total
	if offset >= total {
		return out, nil
	}

	query := "SELECT " + selectColumns + " FROM policies WHERE " + where +
		" ORDER BY popularity_score DESC, created_at DESC, id LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return model.PolicyPage{}, fmt.Errorf("query cached policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanSQLite(rows)
		if err != nil {
			return model.PolicyPage{}, fmt.Errorf("scan cached policy: %w", err)
		}
		out.Policies = append(out.Policies, p)
	}
	if err := rows.Err(); err != nil {
		return model.PolicyPage{}, fmt.Errorf("query cached policies: %w", err)
	}
	return out, nil
}

// GetByID returns one policy regardless of status, or ErrNotFound.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.Policy, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM policies WHERE id = ?", id)
	p, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return &p, nil
}

func sqliteArgs(p model.Policy, now time.Time) ([]any, error) {
	e, err := encodePolicy(p)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.Title, p.Category, p.Description, p.Content,
		textDate(p.Deadline), textDate(p.StartDate), textDate(p.EndDate), p.ApplicationURL,
		e.requirements, e.region, e.targetAge, e.tags,
		e.contactInfo, e.benefits, e.documents,
		toMillis(now), toMillis(now), toMillis(now),
	}, nil
}

func textDate(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseTextDate(v sql.NullString) *model.Date {
	if !v.Valid {
		return nil
	}
	d, err := model.ParseISODate(v.String)
	if err != nil {
		return nil
	}
	return &d
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (model.Policy, error) {
	var (
		p                              model.Policy
		raw                            rawColumns
		deadline, start, end           sql.NullString
		cachedAt, createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Category, &p.Description, &p.Content,
		&deadline, &start, &end, &p.ApplicationURL,
		&raw.requirements, &raw.region, &raw.targetAge, &raw.tags,
		&raw.contactInfo, &raw.benefits, &raw.documents,
		&cachedAt, &p.Status, &p.PopularityScore, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Policy{}, err
	}
	p.Deadline = parseTextDate(deadline)
	p.StartDate = parseTextDate(start)
	p.EndDate = parseTextDate(end)
	p.CachedAt = fromMillis(cachedAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	raw.apply(&p)
	return p, nil
}

func (s *SQLiteStore) ensureLedger(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	return err
}

func (s *SQLiteStore) isApplied(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM schema_migrations WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) apply(ctx context.Context, name, body string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_migrations (name, applied_at) VALUES (?, ?)",
		name, toMillis(s.now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}
