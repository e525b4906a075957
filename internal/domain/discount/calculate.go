package discount

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/cart"
)

var hundred = decimal.NewFromInt(100)

// Calculate computes the discount amount for an eligible evaluation.
// It must only be called after Evaluate returned Eligible. The result
// is clamped to [0, eligibleSubtotal] and rounded to 2 decimal places.
func Calculate(ev Evaluation, d *Discount) (decimal.Decimal, error) {
	var amount decimal.Decimal

	switch d.Type {
	case TypePercentage:
		amount = ev.EligibleSubtotal.Mul(d.Value).Div(hundred)
	case TypeFixed:
		amount = decimal.Min(d.Value, ev.EligibleSubtotal)
	case TypeBOGO:
		amount = bogoAmount(ev.EligibleItems)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", d.Type)
	}

	if d.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, d.MaxDiscount)
	}

	// Final invariant: a discount never goes negative and never exceeds
	// the eligible portion of the cart.
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	amount = decimal.Min(amount, ev.EligibleSubtotal)

	return amount.Round(2), nil
}

// bogoAmount implements pairwise buy-one-get-one: eligible line items
// are expanded to individual units, sorted by price from most to least
// expensive, and grouped into consecutive pairs. The cheaper unit of
// each pair is free; a trailing unpaired unit (always the cheapest)
// earns nothing. Equal-priced pairs free either unit with the same
// result, so the outcome is deterministic.
func bogoAmount(items []cart.LineItem) decimal.Decimal {
	var units []decimal.Decimal
	for _, item := range items {
		for range item.Quantity {
			units = append(units, item.UnitPrice)
		}
	}

	sort.Slice(units, func(i, j int) bool {
		return units[i].GreaterThan(units[j])
	})

	amount := decimal.Zero
	for i := 0; i+1 < len(units); i += 2 {
		amount = amount.Add(units[i+1])
	}
	return amount
}
