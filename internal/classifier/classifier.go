// Package classifier maps provider activity type strings onto internal categories.
//
// Matching is a case-insensitive substring test evaluated in a fixed order:
// every strength keyword first, then the cardio table top to bottom, then the
// flexibility/other keywords. The first hit wins, so a string matching entries in
// more than one group resolves to the earliest group, and within the cardio table
// to the earliest row. Unmatched strings classify as ("other", other).
package classifier

import (
	"strings"

	"example.com/devicesync/internal/domain"
)

// StrengthType is the normalized type for every strength match.
const StrengthType = "strength"

// OtherType is the normalized type when nothing matches.
const OtherType = "other"

type rule struct {
	keyword        string
	normalizedType string
}

var strengthKeywords = []string{
	"strength",
	"weight",
	"lifting",
	"crossfit",
	"resistance",
	"bodybuilding",
}

// cardioTable is evaluated in slice order; longer, more specific keywords sit above
// the generic ones they contain.
var cardioTable = []rule{
	{"running", "running"},
	{"run", "running"},
	{"jogging", "running"},
	{"cycling", "cycling"},
	{"biking", "cycling"},
	{"bike", "cycling"},
	{"ride", "cycling"},
	{"swimming", "swimming"},
	{"swim", "swimming"},
	{"walking", "walking"},
	{"walk", "walking"},
	{"hiking", "hiking"},
	{"elliptical", "elliptical"},
	{"rowing", "rowing"},
	{"stair", "stair_climbing"},
	{"skiing", "skiing"},
	{"skating", "skating"},
	{"hiit", "hiit"},
	{"cardio", "cardio"},
}

var otherTable = []rule{
	{"yoga", "yoga"},
	{"pilates", "pilates"},
	{"stretch", "stretching"},
	{"flexibility", "flexibility"},
	{"mobility", "mobility"},
	{"breath", "breathwork"},
	{"meditation", "meditation"},
}

// Classify returns the normalized type and category for a provider activity type.
func Classify(vendorType string) (string, domain.Category) {
	value := strings.ToLower(strings.TrimSpace(vendorType))
	if value == "" {
		return OtherType, domain.CategoryOther
	}

	for _, keyword := range strengthKeywords {
		if strings.Contains(value, keyword) {
			return StrengthType, domain.CategoryStrength
		}
	}
	for _, r := range cardioTable {
		if strings.Contains(value, r.keyword) {
			return r.normalizedType, domain.CategoryCardio
		}
	}
	for _, r := range otherTable {
		if strings.Contains(value, r.keyword) {
			return r.normalizedType, domain.CategoryOther
		}
	}
	return OtherType, domain.CategoryOther
}
