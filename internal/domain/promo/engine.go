// Package promo composes the discount evaluator, calculator, and
// redemption ledger into the engine exposed to checkout callers. The
// split matters: Preview is pure and safe to call on every cart edit,
// while ReserveAndPrice consumes a usage slot and is called once the
// customer proceeds to payment.
package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/cart"
	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/ledger"
)

// IneligibleError carries the evaluation reason for a code that was
// found but did not apply to the cart.
type IneligibleError struct {
	Code   string
	Reason discount.Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("code %s not applicable: %s", e.Code, e.Reason)
}

// PreviewResult is the outcome of a side-effect-free discount preview.
type PreviewResult struct {
	Code       string
	Eligible   bool
	Reason     discount.Reason
	Amount     decimal.Decimal
	FinalTotal decimal.Decimal
}

// ReserveResult is the outcome of a successful reservation: the priced
// discount plus the token to commit or release during checkout.
type ReserveResult struct {
	Token      uuid.UUID
	Amount     decimal.Decimal
	FinalTotal decimal.Decimal
	ExpiresAt  time.Time
}

// Engine is the promotion engine facade.
type Engine struct {
	catalog discount.Repository
	ledger  ledger.Ledger
	ttl     time.Duration
	now     func() time.Time
}

// New creates an Engine. ttl bounds how long a reservation may stay
// uncommitted before the sweep reclaims its slot.
func New(catalog discount.Repository, ldg ledger.Ledger, ttl time.Duration) *Engine {
	return &Engine{
		catalog: catalog,
		ledger:  ldg,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Preview evaluates and prices a discount code against a cart without
// side effects. For a fixed (cart, code, catalog snapshot) the result
// is deterministic; callers may invoke it arbitrarily often.
func (e *Engine) Preview(ctx context.Context, c cart.Cart, code string) (*PreviewResult, error) {
	code = discount.NormalizeCode(code)

	d, err := e.catalog.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	ev := discount.Evaluate(c, d, e.now())
	if !ev.Eligible {
		return &PreviewResult{
			Code:       code,
			Reason:     ev.Reason,
			Amount:     decimal.Zero,
			FinalTotal: c.Subtotal().Round(2),
		}, nil
	}

	amount, err := discount.Calculate(ev, d)
	if err != nil {
		return nil, errors.Wrap(err, "calculate discount")
	}

	return &PreviewResult{
		Code:       code,
		Eligible:   true,
		Amount:     amount,
		FinalTotal: c.Subtotal().Sub(amount).Round(2),
	}, nil
}

// ReserveAndPrice evaluates, prices, and atomically claims one usage
// slot for the code. On success the caller must eventually Commit or
// Release the returned token; abandoned tokens are reclaimed by the
// TTL sweep. The engine never retries a failed reservation itself.
func (e *Engine) ReserveAndPrice(ctx context.Context, c cart.Cart, code string) (*ReserveResult, error) {
	code = discount.NormalizeCode(code)

	d, err := e.catalog.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	// The catalog's usage counter is advisory: it may be stale, and live
	// reservations already hold slots. The ledger's atomic increment is
	// the authoritative usage gate, so evaluation here ignores the
	// counter and the ledger decides between exhausted and merely
	// contended.
	snap := *d
	snap.UsageCount = 0
	ev := discount.Evaluate(c, &snap, e.now())
	if !ev.Eligible {
		return nil, &IneligibleError{Code: code, Reason: ev.Reason}
	}

	amount, err := discount.Calculate(ev, d)
	if err != nil {
		return nil, errors.Wrap(err, "calculate discount")
	}

	res, err := e.ledger.Reserve(ctx, d.ID, c.ID, e.ttl)
	if err != nil {
		return nil, err
	}

	return &ReserveResult{
		Token:      res.Token,
		Amount:     amount,
		FinalTotal: c.Subtotal().Sub(amount).Round(2),
		ExpiresAt:  res.ExpiresAt,
	}, nil
}

// Commit finalizes a reservation after successful payment.
func (e *Engine) Commit(ctx context.Context, token uuid.UUID) error {
	return e.ledger.Commit(ctx, token)
}

// Release abandons a reservation after failed or cancelled payment,
// returning its usage slot to the discount.
func (e *Engine) Release(ctx context.Context, token uuid.UUID) error {
	return e.ledger.Release(ctx, token)
}

// Reservation returns the audit record for a token.
func (e *Engine) Reservation(ctx context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	return e.ledger.Get(ctx, token)
}
