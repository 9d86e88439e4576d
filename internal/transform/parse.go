package transform

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"yuno/policy-service/internal/model"
)

// Bound selects which end of a period string ParseDate extracts.
type Bound int

const (
	End Bound = iota
	Start
)

var (
	dateToken  = regexp.MustCompile(`\d{4}\.?\d{2}\.?\d{2}`)
	digitGroup = regexp.MustCompile(`\d+`)
)

// ParseDate extracts one date from a free-text period such as
// "2024.01.01~2024.12.31". Start takes the first date token, End the last;
// with a single token both ends coincide. Returns nil when there is no token
// or the token is not a real calendar date.
func ParseDate(text string, bound Bound) *model.Date {
	tokens := dateToken.FindAllString(text, -1)
	if len(tokens) == 0 {
		return nil
	}
	tok := tokens[len(tokens)-1]
	if bound == Start {
		tok = tokens[0]
	}
	t, err := time.ParseInLocation("20060102", strings.ReplaceAll(tok, ".", ""), time.UTC)
	if err != nil {
		return nil
	}
	return &model.Date{Time: t}
}

// ParseAge reads an age range from free text. Two or more digit groups give
// {first, second}; exactly one gives {n, n}; none gives nil.
func ParseAge(text string) *model.AgeRange {
	groups := digitGroup.FindAllString(text, 2)
	switch len(groups) {
	case 0:
		return nil
	case 1:
		n, err := strconv.Atoi(groups[0])
		if err != nil {
			return nil
		}
		return &model.AgeRange{Min: n, Max: n}
	default:
		lo, err := strconv.Atoi(groups[0])
		if err != nil {
			return nil
		}
		hi, err := strconv.Atoi(groups[1])
		if err != nil {
			return nil
		}
		return &model.AgeRange{Min: lo, Max: hi}
	}
}

// ParseList splits a comma-delimited string into trimmed, non-empty tokens.
// The result is never nil.
func ParseList(text string) []string {
	out := []string{}
	for _, tok := range strings.Split(text, ",") {
		tok = norm.NFC.String(strings.TrimSpace(tok))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// ParseRequirements keeps the age-info text verbatim as the only requirement.
func ParseRequirements(ageInfo string) []string {
	return single(ageInfo)
}

// ParseBenefits keeps the support-content text as a single benefit entry.
func ParseBenefits(content string) []string {
	return single(content)
}

func single(s string) []string {
	if s == "" {
		return []string{}
	}
	return []string{s}
}
