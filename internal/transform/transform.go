// Package transform maps Ontong youth-policy records onto the canonical
// model.Policy.
//
// Every function here is total: malformed or missing upstream fields degrade
// to nil or empty values and never abort the record.
package transform

import (
	"encoding/json"
	"strconv"
	"time"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/ontong"
)

// Upstream field names.
const (
	fieldID          = "bizId"
	fieldTitle       = "polyBizSjnm"
	fieldCategory    = "bizTycdSel"
	fieldDescription = "polyItcnCn"
	fieldContent     = "sporCn"
	fieldPeriod      = "rqutPrdCn"
	fieldApplyURL    = "rqutUrla"
	fieldAgeInfo     = "ageInfo"
	fieldRegion      = "polyRlmCd"
	fieldKeyword     = "keyword"

	fieldDepartment = "cnsgNmor"
	fieldPhone      = "tintCherCn"
	fieldEmail      = "cherCtpcCn"
	fieldDocuments  = "pstnPaprCn"
)

// Transform maps one list page. A nil page yields an empty, non-nil slice.
func Transform(records []ontong.Record, now time.Time) []model.Policy {
	out := make([]model.Policy, 0, len(records))
	for _, r := range records {
		out = append(out, transformOne(r, now))
	}
	return out
}

// TransformDetail maps a detail record: the list mapping plus the contact,
// benefit and document fields only the detail endpoint carries.
func TransformDetail(r ontong.Record, now time.Time) model.Policy {
	p := Transform([]ontong.Record{r}, now)[0]
	p.ContactInfo = &model.ContactInfo{
		Department: optString(r, fieldDepartment),
		Phone:      optString(r, fieldPhone),
		Email:      optString(r, fieldEmail),
	}
	p.Benefits = ParseBenefits(str(r, fieldContent))
	p.Documents = ParseList(str(r, fieldDocuments))
	return p
}

func transformOne(r ontong.Record, now time.Time) model.Policy {
	period := str(r, fieldPeriod)
	ageInfo := str(r, fieldAgeInfo)
	end := ParseDate(period, End)

	return model.Policy{
		ID:             str(r, fieldID),
		Title:          optString(r, fieldTitle),
		Category:       CategoryName(str(r, fieldCategory)),
		Description:    optString(r, fieldDescription),
		Content:        optString(r, fieldContent),
		Deadline:       end,
		StartDate:      ParseDate(period, Start),
		EndDate:        end,
		ApplicationURL: optString(r, fieldApplyURL),
		Requirements:   ParseRequirements(ageInfo),
		Region:         ParseRegion(str(r, fieldRegion)),
		TargetAge:      ParseAge(ageInfo),
		Tags:           ParseList(str(r, fieldKeyword)),
		CachedAt:       now,
	}
}

// optString returns the field as text, or nil when it is absent or not a
// scalar.
func optString(r ontong.Record, key string) *string {
	s, ok := scalar(r[key])
	if !ok {
		return nil
	}
	return &s
}

func str(r ontong.Record, key string) string {
	s, _ := scalar(r[key])
	return s
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
