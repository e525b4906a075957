package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/ledger"
)

const (
	// sweepDiscountSQL reclaims expired reservations of one discount and
	// returns the freed slots to its counter, in a single statement.
	sweepDiscountSQL = `WITH expired AS (
		UPDATE reservations SET state = 'expired'
		WHERE discount_id = $1 AND state = 'reserved' AND expires_at <= now()
		RETURNING 1
	)
	UPDATE discounts
	SET usage_count = GREATEST(usage_count - (SELECT count(*) FROM expired), 0)
	WHERE id = $1 AND EXISTS (SELECT 1 FROM expired)`

	// claimSlotSQL is the atomic increment-if-under-limit. The row lock
	// taken by UPDATE serializes racing claims per discount; zero rows
	// affected means the limit is already reached (or the id is unknown).
	claimSlotSQL = `UPDATE discounts SET usage_count = usage_count + 1
	WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	insertReservationSQL = `INSERT INTO reservations (token, discount_id, cart_id, state, created_at, expires_at)
	VALUES ($1, $2, $3, 'reserved', now(), now() + make_interval(secs => $4))
	RETURNING created_at, expires_at`

	commitReservationSQL = `UPDATE reservations
	SET state = 'committed', committed_at = now()
	WHERE token = $1 AND state = 'reserved' AND expires_at > now()`

	releaseReservationSQL = `UPDATE reservations SET state = 'released'
	WHERE token = $1 AND state = 'reserved'
	RETURNING discount_id`

	returnSlotSQL = `UPDATE discounts SET usage_count = GREATEST(usage_count - 1, 0) WHERE id = $1`

	getReservationSQL = `SELECT token, discount_id, cart_id, state, created_at, expires_at, committed_at
	FROM reservations WHERE token = $1`

	reservationStateSQL = `SELECT state, expires_at FROM reservations WHERE token = $1`

	outstandingReservedSQL = `SELECT EXISTS (
		SELECT 1 FROM reservations
		WHERE discount_id = $1 AND state = 'reserved' AND expires_at > now()
	)`

	discountExistsSQL = `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`

	sweepAllSQL = `WITH expired AS (
		UPDATE reservations SET state = 'expired'
		WHERE state = 'reserved' AND expires_at <= now()
		RETURNING discount_id
	), counts AS (
		SELECT discount_id, count(*) AS n FROM expired GROUP BY discount_id
	), returned AS (
		UPDATE discounts d SET usage_count = GREATEST(d.usage_count - c.n, 0)
		FROM counts c WHERE d.id = c.discount_id
		RETURNING c.n
	)
	SELECT COALESCE(sum(n), 0) FROM returned`
)

var _ ledger.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Ledger backed by PostgreSQL. The
// usage-limit invariant rests on row-level locking: the conditional
// UPDATE of the discount row is the single atomic step that checks the
// limit and claims a slot.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Reserve atomically claims one usage slot and records the reservation.
// Expired reservations of the same discount are swept first so
// abandoned checkouts free their slots before new claims are refused.
func (r *LedgerRepository) Reserve(ctx context.Context, discountID, cartID string, ttl time.Duration) (*ledger.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sweepDiscountSQL, discountID); err != nil {
		return nil, fmt.Errorf("sweeping discount %q: %w", discountID, err)
	}

	tag, err := tx.Exec(ctx, claimSlotSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("claiming usage slot for %q: %w", discountID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, r.classifyExhausted(ctx, tx, discountID)
	}

	res := &ledger.Reservation{
		Token:      uuid.New(),
		DiscountID: discountID,
		CartID:     cartID,
		State:      ledger.StateReserved,
	}
	err = tx.QueryRow(ctx, insertReservationSQL, res.Token, discountID, cartID, ttl.Seconds()).
		Scan(&res.CreatedAt, &res.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("inserting reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}
	return res, nil
}

// classifyExhausted distinguishes a genuinely exhausted limit from one
// temporarily saturated by outstanding reservations.
func (r *LedgerRepository) classifyExhausted(ctx context.Context, tx pgx.Tx, discountID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, discountExistsSQL, discountID).Scan(&exists); err != nil {
		return fmt.Errorf("checking discount %q: %w", discountID, err)
	}
	if !exists {
		return discount.ErrNotFound
	}

	var outstanding bool
	if err := tx.QueryRow(ctx, outstandingReservedSQL, discountID).Scan(&outstanding); err != nil {
		return fmt.Errorf("checking outstanding reservations for %q: %w", discountID, err)
	}
	if outstanding {
		return ledger.ErrConcurrentLimitExceeded
	}
	return ledger.ErrUsageExhausted
}

// Commit finalizes a reservation within its TTL. A reservation found
// past its TTL is reclaimed here rather than honored.
func (r *LedgerRepository) Commit(ctx context.Context, token uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, commitReservationSQL, token)
	if err != nil {
		return fmt.Errorf("committing reservation %s: %w", token, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	state, expired, err := r.inspect(ctx, token)
	if err != nil {
		return err
	}
	switch {
	case state == ledger.StateCommitted:
		return ledger.ErrAlreadyCommitted
	case state == ledger.StateReserved && expired:
		// Lazy sweep: the TTL elapsed but the sweeper has not run yet.
		if _, serr := r.pool.Exec(ctx, sweepDiscountFromTokenSQL, token); serr != nil {
			return fmt.Errorf("sweeping expired reservation %s: %w", token, serr)
		}
		return ledger.ErrReservationExpired
	default:
		return ledger.ErrReservationExpired
	}
}

// sweepDiscountFromTokenSQL expires a single reservation and returns
// its slot, used by the lazy check in Commit.
const sweepDiscountFromTokenSQL = `WITH expired AS (
	UPDATE reservations SET state = 'expired'
	WHERE token = $1 AND state = 'reserved' AND expires_at <= now()
	RETURNING discount_id
)
UPDATE discounts d SET usage_count = GREATEST(d.usage_count - 1, 0)
FROM expired e WHERE d.id = e.discount_id`

// Release abandons a reservation and returns its slot. Releasing an
// already released or swept reservation is a no-op.
func (r *LedgerRepository) Release(ctx context.Context, token uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var discountID string
	err = tx.QueryRow(ctx, releaseReservationSQL, token).Scan(&discountID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("releasing reservation %s: %w", token, err)
		}

		state, _, ierr := r.inspect(ctx, token)
		if ierr != nil {
			return ierr
		}
		if state == ledger.StateCommitted {
			return ledger.ErrAlreadyCommitted
		}
		return nil
	}

	if _, err := tx.Exec(ctx, returnSlotSQL, discountID); err != nil {
		return fmt.Errorf("returning usage slot for %q: %w", discountID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

// Get returns the audit record for a token.
func (r *LedgerRepository) Get(ctx context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	var (
		res         ledger.Reservation
		state       string
		committedAt *time.Time
	)
	err := r.pool.QueryRow(ctx, getReservationSQL, token).Scan(
		&res.Token, &res.DiscountID, &res.CartID, &state,
		&res.CreatedAt, &res.ExpiresAt, &committedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("getting reservation %s: %w", token, err)
	}
	res.State = ledger.State(state)
	res.CommittedAt = committedAt
	return &res, nil
}

// SweepExpired reclaims all expired reservations across discounts and
// reports how many were swept.
func (r *LedgerRepository) SweepExpired(ctx context.Context) (int, error) {
	var reclaimed int64
	if err := r.pool.QueryRow(ctx, sweepAllSQL).Scan(&reclaimed); err != nil {
		return 0, fmt.Errorf("sweeping expired reservations: %w", err)
	}
	return int(reclaimed), nil
}

func (r *LedgerRepository) inspect(ctx context.Context, token uuid.UUID) (ledger.State, bool, error) {
	var (
		state     string
		expiresAt time.Time
	)
	err := r.pool.QueryRow(ctx, reservationStateSQL, token).Scan(&state, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ledger.ErrNotFound
		}
		return "", false, fmt.Errorf("inspecting reservation %s: %w", token, err)
	}
	return ledger.State(state), time.Now().After(expiresAt), nil
}
