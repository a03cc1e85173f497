package points

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// Award is a rule that survived selection and throttling, with its computed amount
type Award struct {
	Rule      *PointsRule
	Campaign  *PointsCampaign
	Computed  int64
	Amount    int64
	ClippedBy ClipReason
}

// exclusivePrecedes orders exclusive contenders: highest computed amount, then
// earliest created, then lowest id.
func exclusivePrecedes(a, b *Award) int {
	if c := cmp.Compare(b.Computed, a.Computed); c != 0 {
		return c
	}
	if c := a.Rule.CreatedAt.Compare(b.Rule.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Rule.ID.String(), b.Rule.ID.String())
}

// ResolveStacking keeps every stack award and at most one exclusive award.
// Winners come back in rule creation order so campaign budgets are consumed deterministically.
func ResolveStacking(awards []*Award) (winners, dropped []*Award) {
	var exclusive []*Award
	for _, a := range awards {
		if a.Rule.StackMode == StackModeExclusive {
			exclusive = append(exclusive, a)
			continue
		}
		winners = append(winners, a)
	}
	if len(exclusive) > 0 {
		slices.SortFunc(exclusive, exclusivePrecedes)
		winners = append(winners, exclusive[0])
		dropped = exclusive[1:]
	}
	slices.SortFunc(winners, func(a, b *Award) int {
		if c := a.Rule.CreatedAt.Compare(b.Rule.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Rule.ID.String(), b.Rule.ID.String())
	})
	return winners, dropped
}

// ApplyMultiplier scales an amount by the risk downgrade multiplier, floored at zero
func ApplyMultiplier(amount int64, multiplier float64) int64 {
	if multiplier >= 1 {
		return amount
	}
	if multiplier <= 0 {
		return 0
	}
	scaled := decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(multiplier)).Floor()
	return max(scaled.IntPart(), 0)
}
