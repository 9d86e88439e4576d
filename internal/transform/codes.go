package transform

import (
	"maps"
	"slices"
	"strings"
)

// CategoryOther is returned for any vendor code missing from the table.
const CategoryOther = "기타"

// RegionNationwide is the region assigned when a code is not mapped.
const RegionNationwide = "전국"

// categoryCodes maps the human-readable category to the Ontong bizTycdSel code.
var categoryCodes = map[string]string{
	"장학금":  "023010",
	"창업지원": "023020",
	"취업지원": "023030",
	"주거지원": "023040",
	"생활복지": "023050",
	"문화":   "023060",
	"참여권리": "023070",
}

var categoryNames = invert(categoryCodes)

// regionNames maps polyRlmCd codes to region names.
var regionNames = map[string]string{
	"003002000": RegionNationwide,
	"003002001": "서울",
	"003002002": "부산",
	"003002003": "대구",
	"003002004": "인천",
	"003002005": "광주",
	"003002006": "대전",
	"003002007": "울산",
	"003002008": "경기",
	"003002009": "강원",
	"003002010": "충북",
	"003002011": "충남",
	"003002012": "전북",
	"003002013": "전남",
	"003002014": "경북",
	"003002015": "경남",
	"003002016": "제주",
	"003002017": "세종",
}

var regionCodes = invert(regionNames)

// RegionCode returns the polyRlmCd code for a region name. Codes and
// unknown values pass through unchanged.
func RegionCode(v string) string {
	v = strings.TrimSpace(v)
	if code, ok := regionCodes[v]; ok {
		return code
	}
	return v
}

// RegionName returns the region name for a polyRlmCd code. Names and
// unknown values pass through unchanged.
func RegionName(v string) string {
	v = strings.TrimSpace(v)
	if name, ok := regionNames[v]; ok {
		return name
	}
	return v
}

// CategoryCode returns the vendor code for a category name, or "" when the
// name is unknown.
func CategoryCode(name string) string {
	return categoryCodes[strings.TrimSpace(name)]
}

// CategoryName returns the category name for a vendor code, or CategoryOther.
func CategoryName(code string) string {
	if name, ok := categoryNames[strings.TrimSpace(code)]; ok {
		return name
	}
	return CategoryOther
}

// Categories lists every mapped category name in sorted order.
func Categories() []string {
	return slices.Sorted(maps.Keys(categoryCodes))
}

// ParseRegion converts a region code into a region set. It never returns an
// empty set: unmapped codes yield [RegionNationwide].
func ParseRegion(code string) []string {
	if name, ok := regionNames[strings.TrimSpace(code)]; ok {
		return []string{name}
	}
	return []string{RegionNationwide}
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
