package models

import (
	"sort"
	"strings"
)

// Column headers that sneak in when customer ids are pasted from a spreadsheet.
var headerTokens = map[string]struct{}{
	"cust_id":     {},
	"customer_id": {},
	"customer":    {},
	"id":          {},
}

// NormalizeCustomerIDs trims, drops empties, header tokens and duplicates,
// and returns the surviving ids in lexicographic order.
func NormalizeCustomerIDs(cids []string) []string {
	seen := make(map[string]struct{}, len(cids))
	out := make([]string, 0, len(cids))
	for _, cid := range cids {
		trimmed := strings.TrimSpace(cid)
		if trimmed == "" {
			continue
		}
		if _, header := headerTokens[strings.ToLower(trimmed)]; header {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
