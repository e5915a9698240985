package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TierPolicy maps a payment amount to the number of approval levels it
// needs. Limits[i] is the largest amount that needs i+1 levels; anything
// above the last limit needs len(Limits)+1. Limits are plain numbers and
// apply to every currency.
type TierPolicy struct {
	Limits []decimal.Decimal
}

// DefaultTierPolicy: up to 10,000,000 one level, up to 100,000,000 two
// levels, three above that.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{Limits: []decimal.Decimal{
		decimal.NewFromInt(10_000_000),
		decimal.NewFromInt(100_000_000),
	}}
}

// NewTierPolicy checks that limits are positive and strictly increasing.
func NewTierPolicy(limits ...decimal.Decimal) (TierPolicy, error) {
	for i, limit := range limits {
		if !limit.IsPositive() {
			return TierPolicy{}, fmt.Errorf("approval tier %d: limit must be positive, got %s", i+1, limit)
		}
		if i > 0 && !limit.GreaterThan(limits[i-1]) {
			return TierPolicy{}, fmt.Errorf("approval tier %d: limit %s must exceed %s", i+1, limit, limits[i-1])
		}
	}
	return TierPolicy{Limits: limits}, nil
}

func (p TierPolicy) RequiredLevels(amount decimal.Decimal) int {
	for i, limit := range p.Limits {
		if amount.LessThanOrEqual(limit) {
			return i + 1
		}
	}
	return len(p.Limits) + 1
}

func (p TierPolicy) MaxLevels() int {
	return len(p.Limits) + 1
}
