package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/store/migrations"
)

// PostgresStore persists policies in PostgreSQL with JSONB structured columns.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres wraps pool and applies the embedded Postgres migrations.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, now: time.Now}
	if err := applyMigrations(ctx, s, migrations.FS, migrations.PostgresDir); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertBatch writes policies in one transaction. Existing ids are fully
// overwritten and get fresh cached_at/updated_at values.
func (s *PostgresStore) UpsertBatch(ctx context.Context, policies []model.Policy) error {
	if len(policies) == 0 {
		return nil
	}
	now := s.now().UTC()
	batches := chunks(dedupe(policies))

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, batch := range batches {
			args := make([]any, 0, len(batch)*len(insertColumns))
			for _, p := range batch {
				row, err := postgresArgs(p, now)
				if err != nil {
					return fmt.Errorf("policy %s: %w", p.ID, err)
				}
				args = append(args, row...)
			}
			if _, err := tx.Exec(ctx, upsertSQL(Postgres, len(batch)), args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert policies: %w", err)
	}
	return nil
}

// QueryCached returns one page of active policies matching f, ordered by
// popularity then recency, with the total match count.
func (s *PostgresStore) QueryCached(ctx context.Context, f model.Filters, page, pageSize int) (model.PolicyPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	where, args := CachedFilter(f).Build(Postgres)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM policies WHERE "+where, args...).Scan(&total); err != nil {
		return model.PolicyPage{}, fmt.Errorf("count cached policies: %w", err)
	}

	out := emptyPage(page, pageSize, model.SourceCache)
	out.Pagination.Total = total
	out.Pagination.HasNext = offset+pageSize < total
	if offset >= total {
		return out, nil
	}

	query := fmt.Sprintf(
		`SELECT %s FROM policies WHERE %s
		 ORDER BY popularity_score DESC, created_at DESC, id
		 LIMIT %s OFFSET %s`,
		selectColumns, where, Postgres.Placeholder(len(args)+1), Postgres.Placeholder(len(args)+2),
	)
	rows, err := s.pool.Query(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return model.PolicyPage{}, fmt.Errorf("query cached policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPostgres(rows)
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
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM policies WHERE id = $1", id)
	p, err := scanPostgres(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return &p, nil
}

func postgresArgs(p model.Policy, now time.Time) ([]any, error) {
	e, err := encodePolicy(p)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.Title, p.Category, p.Description, p.Content,
		pgDate(p.Deadline), pgDate(p.StartDate), pgDate(p.EndDate), p.ApplicationURL,
		e.requirements, e.region, e.targetAge, e.tags,
		e.contactInfo, e.benefits, e.documents,
		now, now, now,
	}, nil
}

func pgDate(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func scanPostgres(row pgx.Row) (model.Policy, error) {
	var (
		p                    model.Policy
		raw                  rawColumns
		deadline, start, end *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Category, &p.Description, &p.Content,
		&deadline, &start, &end, &p.ApplicationURL,
		&raw.requirements, &raw.region, &raw.targetAge, &raw.tags,
		&raw.contactInfo, &raw.benefits, &raw.documents,
		&p.CachedAt, &p.Status, &p.PopularityScore, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Policy{}, err
	}
	p.Deadline = dateOf(deadline)
	p.StartDate = dateOf(start)
	p.EndDate = dateOf(end)
	raw.apply(&p)
	return p, nil
}

// ── migrator ────────────────────────────────────────────────────────────────

func (s *PostgresStore) ensureLedger(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func (s *PostgresStore) isApplied(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.pool.QueryRow(ctx, "SELECT 1 FROM schema_migrations WHERE name = $1", name).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStore) apply(ctx context.Context, name, body string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING", name)
		return err
	})
}
