package persistence

import (
	"strings"

	"github.com/loyalty/points/internal/domain/shared"
	"gorm.io/gorm"
)

// ValidateSortOrder returns ASC only for an explicit ascending request
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when the whitelist has it, defaultField otherwise
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// applyPage orders and paginates a list query. The id tiebreaker keeps pages stable
// when many rows share the sort value.
func applyPage(query *gorm.DB, filter shared.Filter, allowed map[string]bool, defaultField string) *gorm.DB {
	filter = filter.Normalize()
	field := ValidateSortField(filter.OrderBy, allowed, defaultField)
	dir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(field + " " + dir)
	if field != "id" {
		query = query.Order("id " + dir)
	}
	return query.Offset(filter.Offset()).Limit(filter.PageSize)
}

// escapeLike escapes LIKE wildcards in user input
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RuleSortFields contains allowed sort fields for points rules
var RuleSortFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"name":         true,
	"event_type":   true,
	"reward_value": true,
	"status":       true,
	"valid_start":  true,
	"valid_end":    true,
}

// CampaignSortFields contains allowed sort fields for campaigns
var CampaignSortFields = map[string]bool{
	"id":                  true,
	"created_at":          true,
	"updated_at":          true,
	"name":                true,
	"status":              true,
	"spent_points":        true,
	"budget_total_points": true,
	"start_at":            true,
	"end_at":              true,
}

// RiskRuleSortFields contains allowed sort fields for risk rules
var RiskRuleSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"event_type": true,
	"status":     true,
}

// LedgerSortFields contains allowed sort fields for ledger rows
var LedgerSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"user_id":    true,
	"type":       true,
	"amount":     true,
	"biz_date":   true,
}

// GrantTaskSortFields contains allowed sort fields for grant tasks
var GrantTaskSortFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"updated_at":    true,
	"status":        true,
	"grant_type":    true,
	"points":        true,
	"success_count": true,
	"failure_count": true,
	"finished_at":   true,
}

// DecisionSortFields contains allowed sort fields for decisions
var DecisionSortFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"occurred_at":   true,
	"user_id":       true,
	"outcome":       true,
	"total_awarded": true,
}
