// Package cart defines the immutable cart snapshot consumed by the
// promotion engine. Carts are materialized by the checkout service and
// passed in whole; the engine never queries cart state.
package cart

import "github.com/shopspring/decimal"

// LineItem is a single cart line: a product, its category, and the
// quantity at a unit price.
type LineItem struct {
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// LineTotal returns quantity * unit price for this line.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is an ordered sequence of line items identified by the checkout
// session that produced it.
type Cart struct {
	ID    string
	Items []LineItem
}

// Subtotal returns the sum of line totals across all items.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// TotalQuantity returns the sum of quantities across all items.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}
