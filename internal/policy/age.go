package policy

import "yuno/policy-service/internal/model"

// maxAge stands in for an unset (zero) upper end of a range.
const maxAge = 100

// FilterByAge keeps policies whose target age range intersects the bounds.
// Policies without a range are always kept; a one-sided bound filters on that
// side only; no bounds keeps everything. The result is never nil.
func FilterByAge(policies []model.Policy, b model.AgeBounds) []model.Policy {
	out := make([]model.Policy, 0, len(policies))
	for _, p := range policies {
		if matchesAge(p.TargetAge, b) {
			out = append(out, p)
		}
	}
	return out
}

func matchesAge(r *model.AgeRange, b model.AgeBounds) bool {
	if r == nil {
		return true
	}
	lo, hi := r.Min, r.Max
	if hi == 0 {
		hi = maxAge
	}
	switch {
	case b.Min != nil && b.Max != nil:
		return lo <= *b.Max && hi >= *b.Min
	case b.Min != nil:
		return hi >= *b.Min
	case b.Max != nil:
		return lo <= *b.Max
	default:
		return true
	}
}
