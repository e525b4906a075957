// Package ledger defines the redemption ledger contract: the one
// stateful component of the promotion engine. The ledger owns the
// per-discount usage counter and the reservation table, and enforces
// the usage-limit invariant as a linearizable guarantee.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// State is the lifecycle state of a reservation.
type State string

const (
	// StateReserved marks a provisional claim on one usage slot.
	StateReserved State = "reserved"
	// StateCommitted marks a finalized redemption; the slot stays consumed.
	StateCommitted State = "committed"
	// StateReleased marks an explicitly abandoned claim; the slot is freed.
	StateReleased State = "released"
	// StateExpired marks a claim reclaimed by the TTL sweep.
	StateExpired State = "expired"
)

var (
	// ErrUsageExhausted is returned by Reserve when the discount's usage
	// limit has been reached by committed redemptions.
	ErrUsageExhausted = errors.New("discount usage limit exhausted")
	// ErrConcurrentLimitExceeded is returned by Reserve when all remaining
	// usage slots are held by outstanding reservations. Retrying after a
	// TTL sweep may succeed.
	ErrConcurrentLimitExceeded = errors.New("all usage slots held by concurrent reservations")
	// ErrReservationExpired is returned by Commit when the reservation's
	// TTL elapsed before payment completed.
	ErrReservationExpired = errors.New("reservation expired")
	// ErrAlreadyCommitted is returned when a token was already committed.
	ErrAlreadyCommitted = errors.New("reservation already committed")
	// ErrNotFound is returned for unknown reservation tokens.
	ErrNotFound = errors.New("reservation not found")
)

// Reservation is a time-bounded provisional claim on one unit of a
// discount's usage limit. Records survive their lifecycle transitions
// as the audit trail of redemptions.
type Reservation struct {
	Token       uuid.UUID
	DiscountID  string
	CartID      string
	State       State
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CommittedAt *time.Time
}

// Ledger guards per-discount usage counters.
//
// Reserve performs an atomic increment-if-under-limit and records a
// Reserved claim with the given TTL. The increment and the limit check
// are a single atomic step serialized per discount id: two racing
// callers can never both take the last slot. Commit finalizes a claim
// within its TTL; Release (and the TTL sweep) frees the slot by
// decrementing the counter. Release is idempotent for claims that were
// already released or swept.
type Ledger interface {
	Reserve(ctx context.Context, discountID, cartID string, ttl time.Duration) (*Reservation, error)
	Commit(ctx context.Context, token uuid.UUID) error
	Release(ctx context.Context, token uuid.UUID) error
	Get(ctx context.Context, token uuid.UUID) (*Reservation, error)

	// SweepExpired transitions Reserved records past their ExpiresAt to
	// Expired and returns usage slots to their discounts. It reports the
	// number of reservations reclaimed.
	SweepExpired(ctx context.Context) (int, error)
}
