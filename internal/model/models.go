// Package model defines shared data structures for the policy service.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the ISO calendar-date form used for policy periods.
const DateLayout = "2006-01-02"

// StatusActive is the only status visible to cached reads.
const StatusActive = "active"

// Date is a calendar day. It is serialised as "YYYY-MM-DD".
type Date struct {
	time.Time
}

// NewDate returns the UTC midnight Date for y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseISODate parses a "YYYY-MM-DD" string.
func ParseISODate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	parsed, err := ParseISODate(s)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	*d = parsed
	return nil
}

// AgeRange is an inclusive target-age interval.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ContactInfo is only populated from the detail endpoint.
type ContactInfo struct {
	Department *string `json:"department"`
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
}

// Policy is the canonical, cache-resident youth policy record.
// Status, PopularityScore, CreatedAt and UpdatedAt are owned by the store;
// the transformer leaves them zero. The store also stamps CachedAt on every
// write.
type Policy struct {
	ID             string    `json:"id"`
	Title          *string   `json:"title"`
	Category       string    `json:"category"`
	Description    *string   `json:"description"`
	Content        *string   `json:"content"`
	Deadline       *Date     `json:"deadline"`
	StartDate      *Date     `json:"start_date"`
	EndDate        *Date     `json:"end_date"`
	ApplicationURL *string   `json:"application_url"`
	Requirements   []string  `json:"requirements"`
	Region         []string  `json:"region"`
	TargetAge      *AgeRange `json:"target_age"`
	Tags           []string  `json:"tags"`
	CachedAt       time.Time `json:"cached_at"`

	ContactInfo *ContactInfo `json:"contact_info,omitempty"`
	Benefits    []string     `json:"benefits,omitempty"`
	Documents   []string     `json:"documents,omitempty"`

	Status          string    `json:"status,omitempty"`
	PopularityScore int       `json:"popularity_score,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

// Filters are the upstream-compatible read filters. Empty fields are omitted.
type Filters struct {
	Category string `json:"category,omitempty"`
	Region   string `json:"region,omitempty"`
	Search   string `json:"search,omitempty"`
}

// AgeBounds restricts the live read path by target age. Nil sides are open.
type AgeBounds struct {
	Min *int
	Max *int
}

// Pagination mirrors the page metadata returned alongside policies.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

// Source values for PolicyPage.
const (
	SourceLive  = "live"
	SourceCache = "cache"
)

// PolicyPage is one page of policies plus its pagination metadata.
type PolicyPage struct {
	Policies   []Policy   `json:"policies"`
	Pagination Pagination `json:"pagination"`
	Source     string     `json:"source"`
}
