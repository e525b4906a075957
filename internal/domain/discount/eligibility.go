package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/cart"
)

// Reason explains why a discount did not apply to a cart. Reasons are
// stable identifiers surfaced verbatim to callers.
type Reason string

const (
	ReasonDeactivated       Reason = "deactivated"
	ReasonNotYetActive      Reason = "not_yet_active"
	ReasonExpired           Reason = "expired"
	ReasonUsageExhausted    Reason = "usage_exhausted"
	ReasonNoEligibleItems   Reason = "no_eligible_items"
	ReasonMinPurchaseNotMet Reason = "min_purchase_not_met"
)

// Evaluation is the outcome of checking a discount against a cart.
// When Eligible is false, Reason carries the first failed check.
type Evaluation struct {
	Eligible         bool
	Reason           Reason
	EligibleItems    []cart.LineItem
	EligibleSubtotal decimal.Decimal
}

// Evaluate decides whether the discount applies to the cart at the
// given instant. Checks run in a fixed order and the first failure
// wins, so results are deterministic and explainable. Evaluate is a
// pure function of its inputs and safe under unbounded concurrency.
func Evaluate(c cart.Cart, d *Discount, now time.Time) Evaluation {
	if !d.IsActive {
		return ineligible(ReasonDeactivated)
	}
	if !d.StartDate.IsZero() && now.Before(d.StartDate) {
		return ineligible(ReasonNotYetActive)
	}
	if !d.EndDate.IsZero() && now.After(d.EndDate) {
		return ineligible(ReasonExpired)
	}
	if d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit {
		return ineligible(ReasonUsageExhausted)
	}

	eligible := eligibleItems(c, d)
	if len(eligible) == 0 {
		return ineligible(ReasonNoEligibleItems)
	}

	// Min purchase is measured against the whole cart, not the eligible
	// subset: spending on non-discounted categories still counts toward
	// the threshold, but never unlocks a discount on an empty subset.
	if d.MinPurchase.IsPositive() && c.Subtotal().LessThan(d.MinPurchase) {
		return ineligible(ReasonMinPurchaseNotMet)
	}

	subtotal := decimal.Zero
	for _, item := range eligible {
		subtotal = subtotal.Add(item.LineTotal())
	}

	return Evaluation{
		Eligible:         true,
		EligibleItems:    eligible,
		EligibleSubtotal: subtotal,
	}
}

func ineligible(r Reason) Evaluation {
	return Evaluation{Reason: r, EligibleSubtotal: decimal.Zero}
}

// eligibleItems filters the cart down to line items matched by the
// discount's restriction sets. Empty restriction sets match everything;
// when both sets are present an item matching either qualifies.
func eligibleItems(c cart.Cart, d *Discount) []cart.LineItem {
	if len(d.Categories) == 0 && len(d.Products) == 0 {
		out := make([]cart.LineItem, len(c.Items))
		copy(out, c.Items)
		return out
	}

	products := make(map[string]struct{}, len(d.Products))
	for _, id := range d.Products {
		products[id] = struct{}{}
	}
	categories := make(map[string]struct{}, len(d.Categories))
	for _, id := range d.Categories {
		categories[id] = struct{}{}
	}

	var out []cart.LineItem
	for _, item := range c.Items {
		if _, ok := products[item.ProductID]; ok {
			out = append(out, item)
			continue
		}
		if _, ok := categories[item.CategoryID]; ok {
			out = append(out, item)
		}
	}
	return out
}
