package categorizer

import (
	"sort"
	"strings"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/patterns"
)

// SortRules orders rules by (priority desc, created asc, id asc) in place.
// The ordering is applied explicitly on every match instead of trusting
// storage-layer ordering, so the tie-break is auditable in isolation.
func SortRules(rules []*models.CategoryRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// FirstMatch scans rules in (priority desc, created asc) order and returns
// the first active rule whose cleaned pattern is contained in the
// upper-cased description, or nil when none matches.
func FirstMatch(rules []*models.CategoryRule, description string) *models.CategoryRule {
	ordered := make([]*models.CategoryRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Active {
			ordered = append(ordered, rule)
		}
	}
	SortRules(ordered)

	upper := strings.ToUpper(description)
	for _, rule := range ordered {
		cleaned := patterns.CleanPattern(strings.ToUpper(rule.Pattern))
		if cleaned == "" {
			continue
		}
		if strings.Contains(upper, cleaned) {
			return rule
		}
	}

	return nil
}
