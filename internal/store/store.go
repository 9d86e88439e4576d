// Package store is the relational cache of canonical policies.
//
// Two backends share one schema and one query shape: PostgreSQL through
// pgxpool (production) and SQLite through modernc.org/sqlite (local runs and
// tests). Both upsert a page of policies as a single all-or-nothing write and
// serve filtered, paginated reads of active rows.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/transform"
)

// ErrNotFound is returned by GetByID when no row has the id.
var ErrNotFound = errors.New("policy not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// maxRowsPerStatement keeps one INSERT under both drivers' bind limits
	// (19 columns per row).
	maxRowsPerStatement = 1000
)

// Store is implemented by *PostgresStore and *SQLiteStore.
type Store interface {
	UpsertBatch(ctx context.Context, policies []model.Policy) error
	QueryCached(ctx context.Context, f model.Filters, page, pageSize int) (model.PolicyPage, error)
	GetByID(ctx context.Context, id string) (*model.Policy, error)
	Close() error
}

// NormalizePage clamps page to >= 1 and pageSize to [1, MaxPageSize],
// substituting DefaultPageSize for non-positive sizes.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// insertColumns is the write order used by upsert statements.
var insertColumns = []string{
	"id", "title", "category", "description", "content",
	"deadline", "start_date", "end_date", "application_url",
	"requirements", "region", "target_age", "tags",
	"contact_info", "benefits", "documents",
	"cached_at", "created_at", "updated_at",
}

// jsonColumns get a ::jsonb cast on Postgres.
var jsonColumns = map[string]bool{
	"requirements": true, "region": true, "target_age": true, "tags": true,
	"contact_info": true, "benefits": true, "documents": true,
}

var dateColumns = map[string]bool{"deadline": true, "start_date": true, "end_date": true}

// detailColumns are only populated by the detail path; a NULL write keeps the
// stored value so a list sync does not erase them.
var detailColumns = map[string]bool{"contact_info": true, "benefits": true, "documents": true}

const selectColumns = `id, title, category, description, content,
	deadline, start_date, end_date, application_url,
	requirements, region, target_age, tags,
	contact_info, benefits, documents,
	cached_at, status, popularity_score, created_at, updated_at`

// upsertSQL renders one multi-row INSERT ... ON CONFLICT (id) DO UPDATE for
// rows rows. Every mutable column is overwritten; created_at, status and
// popularity_score are left alone. cached_at never moves backwards.
func upsertSQL(d Dialect, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO policies (")
	b.WriteString(strings.Join(insertColumns, ", "))
	b.WriteString(") VALUES ")

	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, col := range insertColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(d.Placeholder(n))
			if d == Postgres {
				switch {
				case jsonColumns[col]:
					b.WriteString("::jsonb")
				case dateColumns[col]:
					b.WriteString("::date")
				}
			}
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	first := true
	for _, col := range insertColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		switch {
		case col == "cached_at":
			fmt.Fprintf(&b, "cached_at = %s(excluded.cached_at, policies.cached_at)", d.greatest())
		case detailColumns[col]:
			fmt.Fprintf(&b, "%s = COALESCE(excluded.%s, policies.%s)", col, col, col)
		default:
			fmt.Fprintf(&b, "%s = excluded.%s", col, col)
		}
	}
	return b.String()
}

// encodedPolicy holds a policy's column values before dialect conversion.
type encodedPolicy struct {
	requirements, region, tags string
	targetAge, contactInfo     *string
	benefits, documents        *string
}

func encodePolicy(p model.Policy) (encodedPolicy, error) {
	var (
		e   encodedPolicy
		err error
	)
	if e.requirements, err = jsonList(p.Requirements); err != nil {
		return e, fmt.Errorf("encode requirements: %w", err)
	}
	region := p.Region
	if len(region) == 0 {
		region = []string{transform.RegionNationwide}
	}
	if e.region, err = jsonList(region); err != nil {
		return e, fmt.Errorf("encode region: %w", err)
	}
	if e.tags, err = jsonList(p.Tags); err != nil {
		return e, fmt.Errorf("encode tags: %w", err)
	}
	if p.TargetAge != nil {
		if e.targetAge, err = jsonPtr(p.TargetAge); err != nil {
			return e, fmt.Errorf("encode target_age: %w", err)
		}
	}
	if p.ContactInfo != nil {
		if e.contactInfo, err = jsonPtr(p.ContactInfo); err != nil {
			return e, fmt.Errorf("encode contact_info: %w", err)
		}
	}
	if p.Benefits != nil {
		if e.benefits, err = jsonPtr(p.Benefits); err != nil {
			return e, fmt.Errorf("encode benefits: %w", err)
		}
	}
	if p.Documents != nil {
		if e.documents, err = jsonPtr(p.Documents); err != nil {
			return e, fmt.Errorf("encode documents: %w", err)
		}
	}
	return e, nil
}

func jsonList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func jsonPtr(v any) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// rawColumns are the JSON columns as read back from either driver.
type rawColumns struct {
	requirements, region, targetAge, tags []byte
	contactInfo, benefits, documents      []byte
}

func (r rawColumns) apply(p *model.Policy) {
	p.Requirements = decodeList(r.requirements)
	p.Region = decodeList(r.region)
	p.Tags = decodeList(r.tags)
	p.TargetAge = decodeAge(r.targetAge)
	if len(r.contactInfo) > 0 {
		var ci model.ContactInfo
		if json.Unmarshal(r.contactInfo, &ci) == nil {
			p.ContactInfo = &ci
		}
	}
	if len(r.benefits) > 0 {
		p.Benefits = decodeList(r.benefits)
	}
	if len(r.documents) > 0 {
		p.Documents = decodeList(r.documents)
	}
}

func decodeList(b []byte) []string {
	out := []string{}
	if len(b) == 0 {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// decodeAge treats NULL, "{}" and malformed values as an absent range. A
// one-sided value is widened to the 0..100 default on the missing side.
func decodeAge(b []byte) *model.AgeRange {
	if len(b) == 0 {
		return nil
	}
	var raw struct {
		Min *int `json:"min"`
		Max *int `json:"max"`
	}
	if err := json.Unmarshal(b, &raw); err != nil || (raw.Min == nil && raw.Max == nil) {
		return nil
	}
	r := &model.AgeRange{Min: 0, Max: 100}
	if raw.Min != nil {
		r.Min = *raw.Min
	}
	if raw.Max != nil {
		r.Max = *raw.Max
	}
	return r
}

func dateOf(t *time.Time) *model.Date {
	if t == nil {
		return nil
	}
	d := model.NewDate(t.Year(), t.Month(), t.Day())
	return &d
}

// dedupe keeps the last occurrence of each id, preserving first-seen order.
// A single ON CONFLICT statement cannot touch the same row twice.
func dedupe(policies []model.Policy) []model.Policy {
	idx := make(map[string]int, len(policies))
	out := make([]model.Policy, 0, len(policies))
	for _, p := range policies {
		if i, ok := idx[p.ID]; ok {
			out[i] = p
			continue
		}
		idx[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func chunks(policies []model.Policy) [][]model.Policy {
	var out [][]model.Policy
	for len(policies) > maxRowsPerStatement {
		out = append(out, policies[:maxRowsPerStatement])
		policies = policies[maxRowsPerStatement:]
	}
	if len(policies) > 0 {
		out = append(out, policies)
	}
	return out
}

func emptyPage(page, pageSize int, source string) model.PolicyPage {
	return model.PolicyPage{
		Policies:   []model.Policy{},
		Pagination: model.Pagination{Page: page, Limit: pageSize},
		Source:     source,
	}
}
