package usecase

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ResolvePrice picks the price of a duration from a tier table. An unconfigured
// duration is charged at the per-minute rate of the nearest configured tier,
// the longer tier winning a tie.
func ResolvePrice(prices map[int]decimal.Decimal, duration int) (decimal.Decimal, error) {
	if price, ok := prices[duration]; ok {
		return price, nil
	}
	if len(prices) == 0 {
		return decimal.Zero, NewValidationError("no price configured for this specialty")
	}

	tiers := make([]int, 0, len(prices))
	for tier := range prices {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)

	nearest := tiers[0]
	for _, tier := range tiers[1:] {
		if abs(tier-duration) <= abs(nearest-duration) {
			nearest = tier
		}
	}

	perMinute := prices[nearest].Div(decimal.NewFromInt(int64(nearest)))
	return perMinute.Mul(decimal.NewFromInt(int64(duration))).Round(2), nil
}

// ApplyDiscount takes percentOff off price, rounded to cents.
func ApplyDiscount(price decimal.Decimal, percentOff int) decimal.Decimal {
	if percentOff <= 0 {
		return price
	}
	keep := hundred.Sub(decimal.NewFromInt(int64(percentOff))).Div(hundred)
	return price.Mul(keep).Round(2)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
