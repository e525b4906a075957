// Package discount holds the discount definition model and the pure
// evaluation logic: eligibility checks and amount calculation. Nothing
// in this package has side effects; reserving usage slots is the
// ledger's job.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage applies a percentage of the eligible subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed applies a fixed monetary amount capped at the eligible subtotal.
	TypeFixed Type = "fixed"
	// TypeBOGO pairs eligible units and makes the cheaper unit of each pair free.
	TypeBOGO Type = "bogo"
)

// ErrNotFound is returned when a discount code does not exist in the catalog.
var ErrNotFound = errors.New("discount code not found")

// Discount is an immutable discount definition as supplied by the
// catalog. UsageCount is a snapshot taken at fetch time; the
// authoritative counter lives with the ledger.
type Discount struct {
	ID    string
	Code  string
	Type  Type
	Value decimal.Decimal

	// MinPurchase is checked against the whole-cart subtotal.
	// A zero value means no threshold.
	MinPurchase decimal.Decimal
	// MaxDiscount caps the computed amount for any type when positive.
	MaxDiscount decimal.Decimal

	// StartDate and EndDate bound the validity window, inclusive.
	// A zero time leaves that side of the window open.
	StartDate time.Time
	EndDate   time.Time

	IsActive bool

	// UsageLimit caps total successful redemptions; zero means unlimited.
	UsageLimit int
	UsageCount int

	// Categories and Products restrict which line items the discount
	// applies to. Both empty means the whole cart is eligible.
	Categories []string
	Products   []string
}

// Availability is the derived lifecycle state of a discount at a point
// in time. It is recomputed on every evaluation, never stored.
type Availability string

const (
	AvailabilityScheduled   Availability = "scheduled"
	AvailabilityActive      Availability = "active"
	AvailabilityExpired     Availability = "expired"
	AvailabilityExhausted   Availability = "exhausted"
	AvailabilityDeactivated Availability = "deactivated"
)

// AvailabilityAt derives the discount's availability from its fields.
// The kill switch wins over everything; the date window wins over
// exhaustion so an expired code reads as expired even when also full.
func (d *Discount) AvailabilityAt(now time.Time) Availability {
	switch {
	case !d.IsActive:
		return AvailabilityDeactivated
	case !d.StartDate.IsZero() && now.Before(d.StartDate):
		return AvailabilityScheduled
	case !d.EndDate.IsZero() && now.After(d.EndDate):
		return AvailabilityExpired
	case d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit:
		return AvailabilityExhausted
	default:
		return AvailabilityActive
	}
}

// NormalizeCode upper-cases and trims a discount code. Codes are
// case-insensitive everywhere; the normalized form is canonical.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides read-only lookup of discount definitions.
// Implementations must return ErrNotFound for unknown codes and hand
// back immutable snapshots.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*Discount, error)
}
