package sheets

import "strings"

// fieldAliases maps a lowercased canonical concept to the header variants
// commonly used for it. Within one concept the first variant present among
// the remaining headers wins.
var fieldAliases = map[string][]string{
	"name":    {"Full Name", "Name", "Customer Name", "User Name"},
	"email":   {"Email", "Email Address", "E-mail", "Mail"},
	"phone":   {"Phone", "Phone Number", "Mobile", "Telephone"},
	"message": {"Message", "Comments", "Comment", "Notes", "Description"},
	"subject": {"Subject", "Topic", "Title"},
	"company": {"Company", "Company Name", "Organization"},
	"address": {"Address", "Street Address", "Location"},
	"website": {"Website", "URL", "Homepage"},
}

// timestampHints mark a header as a timestamp column when its lowercased
// text contains any of them.
var timestampHints = []string{"submitted at", "timestamp", "created", "date", "time"}

// MapResult is the outcome of mapping one payload onto a header list.
// MappedData keys are existing headers plus, for unmapped fields, the
// original field names; UnmappedFields preserves payload declaration order.
type MapResult struct {
	MappedData     map[string]string
	UnmappedFields []string
}

// MapFields aligns payload fields to headers in three tiers: exact match,
// alias-table match, then case-insensitive match. Each tier only considers
// fields and headers not consumed by an earlier tier. Fields are processed
// in orderedKeys order, so ties resolve to the first-declared field.
func MapFields(payload map[string]string, orderedKeys []string, headers []string) MapResult {
	mapped := make(map[string]string, len(payload))
	consumed := make(map[string]bool, len(headers))
	done := make(map[string]bool, len(payload))

	// Tier 1: verbatim header match.
	headerSet := make(map[string]bool, len(headers))
	for _, h := range headers {
		headerSet[h] = true
	}
	for _, key := range orderedKeys {
		if headerSet[key] && !consumed[key] {
			mapped[key] = payload[key]
			consumed[key] = true
			done[key] = true
		}
	}

	// Tier 2: semantic alias on the lowercased field name.
	for _, key := range orderedKeys {
		if done[key] {
			continue
		}
		variants, ok := fieldAliases[strings.ToLower(key)]
		if !ok {
			continue
		}
		for _, variant := range variants {
			if headerSet[variant] && !consumed[variant] {
				mapped[variant] = payload[key]
				consumed[variant] = true
				done[key] = true
				break
			}
		}
	}

	// Tier 3: case-insensitive against the remaining headers.
	for _, key := range orderedKeys {
		if done[key] {
			continue
		}
		for _, h := range headers {
			if !consumed[h] && strings.EqualFold(h, key) {
				mapped[h] = payload[key]
				consumed[h] = true
				done[key] = true
				break
			}
		}
	}

	var unmapped []string
	for _, key := range orderedKeys {
		if !done[key] {
			unmapped = append(unmapped, key)
			mapped[key] = payload[key]
		}
	}

	return MapResult{MappedData: mapped, UnmappedFields: unmapped}
}

// TimestampColumn returns the index of the timestamp header when exactly one
// exists, else -1. Its cell is overwritten with the server time on every
// write, whatever the payload carried.
func TimestampColumn(headers []string) int {
	idx, count := -1, 0
	for i, h := range headers {
		lower := strings.ToLower(h)
		for _, hint := range timestampHints {
			if strings.Contains(lower, hint) {
				idx = i
				count++
				break
			}
		}
	}
	if count == 1 {
		return idx
	}
	return -1
}
