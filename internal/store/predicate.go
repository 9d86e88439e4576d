package store

import (
	"encoding/json"
	"strconv"
	"strings"

	"yuno/policy-service/internal/model"
)

// Dialect selects placeholder syntax and operator spelling.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Placeholder renders the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// greatest names the two-argument maximum function.
func (d Dialect) greatest() string {
	if d == Postgres {
		return "GREATEST"
	}
	return "max"
}

// Clause is one parameterised predicate term. bind registers an argument and
// returns its placeholder.
type Clause interface {
	Render(d Dialect, bind func(arg any) string) string
}

// Predicate is a conjunction of clauses.
type Predicate struct {
	clauses []Clause
}

// And appends a clause and returns the predicate for chaining.
func (p *Predicate) And(c Clause) *Predicate {
	p.clauses = append(p.clauses, c)
	return p
}

// Len reports the number of clauses.
func (p *Predicate) Len() int { return len(p.clauses) }

// Build renders the WHERE body and its arguments. Placeholders are numbered
// from 1. An empty predicate renders as "1 = 1".
func (p *Predicate) Build(d Dialect) (string, []any) {
	if len(p.clauses) == 0 {
		return "1 = 1", nil
	}
	var args []any
	bind := func(arg any) string {
		args = append(args, arg)
		return d.Placeholder(len(args))
	}
	parts := make([]string, 0, len(p.clauses))
	for _, c := range p.clauses {
		parts = append(parts, c.Render(d, bind))
	}
	return strings.Join(parts, " AND "), args
}

// StatusIs matches rows by status.
type StatusIs string

func (c StatusIs) Render(_ Dialect, bind func(any) string) string {
	return "status = " + bind(string(c))
}

// CategoryIs is an exact category match.
type CategoryIs string

func (c CategoryIs) Render(_ Dialect, bind func(any) string) string {
	return "category = " + bind(string(c))
}

// RegionContains matches rows whose region set contains the value.
type RegionContains string

func (c RegionContains) Render(d Dialect, bind func(any) string) string {
	if d == Postgres {
		b, _ := json.Marshal([]string{string(c)})
		return "region @> " + bind(string(b)) + "::jsonb"
	}
	return "EXISTS (SELECT 1 FROM json_each(policies.region) WHERE json_each.value = " + bind(string(c)) + ")"
}

// TextSearch is a case-insensitive substring match on title or description.
type TextSearch string

func (c TextSearch) Render(d Dialect, bind func(any) string) string {
	pattern := "%" + escapeLike(string(c)) + "%"
	if d == Postgres {
		ph := bind(pattern)
		return "(title ILIKE " + ph + ` ESCAPE '\' OR description ILIKE ` + ph + ` ESCAPE '\')`
	}
	return "(lower(title) LIKE lower(" + bind(pattern) + `) ESCAPE '\' OR lower(description) LIKE lower(` + bind(pattern) + `) ESCAPE '\')`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// CachedFilter builds the visibility predicate for cached reads: active rows
// only, plus one clause per non-empty filter.
func CachedFilter(f model.Filters) *Predicate {
	p := (&Predicate{}).And(StatusIs(model.StatusActive))
	if f.Category != "" {
		p.And(CategoryIs(f.Category))
	}
	if f.Region != "" {
		p.And(RegionContains(f.Region))
	}
	if f.Search != "" {
		p.And(TextSearch(f.Search))
	}
	return p
}
