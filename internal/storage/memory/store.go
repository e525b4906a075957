// Package memory provides an in-process implementation of the discount
// catalog and redemption ledger. It backs single-node deployments that
// run without PostgreSQL, and unit tests. The usage-limit invariant is
// enforced by a critical section per discount id, so unrelated
// discounts never contend with each other.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/ledger"
)

var (
	_ discount.Repository = (*Store)(nil)
	_ ledger.Ledger       = (*Store)(nil)
)

// Store holds discounts and reservations in memory.
//
// Concurrency model: mu guards the maps themselves; each discount
// additionally has its own mutex serializing counter mutations. Lock
// order is always discount lock first, then mu, never the reverse.
type Store struct {
	mu           sync.RWMutex
	discounts    map[string]*discount.Discount
	byCode       map[string]string
	reservations map[uuid.UUID]*ledger.Reservation
	locks        map[string]*sync.Mutex

	now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		discounts:    make(map[string]*discount.Discount),
		byCode:       make(map[string]string),
		reservations: make(map[uuid.UUID]*ledger.Reservation),
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

// Put registers or replaces a discount definition. The code is
// normalized to its canonical upper-case form.
func (s *Store) Put(d *discount.Discount) {
	cp := *d
	cp.Code = discount.NormalizeCode(cp.Code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[cp.ID] = &cp
	s.byCode[cp.Code] = cp.ID
	if _, ok := s.locks[cp.ID]; !ok {
		s.locks[cp.ID] = &sync.Mutex{}
	}
}

// GetByCode implements discount.Repository. It returns a copy so the
// evaluator always works on an immutable snapshot.
func (s *Store) GetByCode(_ context.Context, code string) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[discount.NormalizeCode(code)]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *s.discounts[id]
	return &cp, nil
}

// lockFor returns the per-discount mutex, creating it on first use.
func (s *Store) lockFor(discountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[discountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[discountID] = l
	}
	return l
}

// Reserve implements ledger.Ledger. The limit check and increment
// happen under the discount's own lock, so at most UsageLimit claims
// can ever be outstanding as Reserved or Committed.
func (s *Store) Reserve(_ context.Context, discountID, cartID string, ttl time.Duration) (*ledger.Reservation, error) {
	l := s.lockFor(discountID)
	l.Lock()
	defer l.Unlock()

	now := s.now()
	s.sweepDiscountLocked(discountID, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[discountID]
	if !ok {
		return nil, discount.ErrNotFound
	}

	if d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit {
		if s.outstandingReservedLocked(discountID, now) > 0 {
			return nil, ledger.ErrConcurrentLimitExceeded
		}
		return nil, ledger.ErrUsageExhausted
	}
	d.UsageCount++

	res := &ledger.Reservation{
		Token:      uuid.New(),
		DiscountID: discountID,
		CartID:     cartID,
		State:      ledger.StateReserved,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	s.reservations[res.Token] = res

	cp := *res
	return &cp, nil
}

// Commit implements ledger.Ledger. An expired-but-unswept reservation
// is reclaimed here rather than honored.
func (s *Store) Commit(_ context.Context, token uuid.UUID) error {
	res, err := s.reservationByToken(token)
	if err != nil {
		return err
	}

	l := s.lockFor(res.DiscountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	res = s.reservations[token]
	switch res.State {
	case ledger.StateCommitted:
		return ledger.ErrAlreadyCommitted
	case ledger.StateReleased, ledger.StateExpired:
		return ledger.ErrReservationExpired
	}

	now := s.now()
	if now.After(res.ExpiresAt) {
		res.State = ledger.StateExpired
		s.decrementLocked(res.DiscountID)
		return ledger.ErrReservationExpired
	}

	res.State = ledger.StateCommitted
	res.CommittedAt = &now
	return nil
}

// Release implements ledger.Ledger. Releasing an already released or
// swept reservation is a no-op; the slot was returned once already.
func (s *Store) Release(_ context.Context, token uuid.UUID) error {
	res, err := s.reservationByToken(token)
	if err != nil {
		return err
	}

	l := s.lockFor(res.DiscountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	res = s.reservations[token]
	switch res.State {
	case ledger.StateCommitted:
		return ledger.ErrAlreadyCommitted
	case ledger.StateReleased, ledger.StateExpired:
		return nil
	}

	res.State = ledger.StateReleased
	s.decrementLocked(res.DiscountID)
	return nil
}

// Get implements ledger.Ledger.
func (s *Store) Get(_ context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	return s.reservationByToken(token)
}

// SweepExpired implements ledger.Ledger. It reclaims every Reserved
// record past its TTL across all discounts.
func (s *Store) SweepExpired(_ context.Context) (int, error) {
	now := s.now()

	s.mu.RLock()
	var candidates []uuid.UUID
	for token, res := range s.reservations {
		if res.State == ledger.StateReserved && now.After(res.ExpiresAt) {
			candidates = append(candidates, token)
		}
	}
	s.mu.RUnlock()

	reclaimed := 0
	for _, token := range candidates {
		s.mu.RLock()
		res := s.reservations[token]
		discountID := res.DiscountID
		s.mu.RUnlock()

		l := s.lockFor(discountID)
		l.Lock()
		s.mu.Lock()
		// Re-check under the lock: a racing Commit may have won.
		if res.State == ledger.StateReserved && now.After(res.ExpiresAt) {
			res.State = ledger.StateExpired
			s.decrementLocked(discountID)
			reclaimed++
		}
		s.mu.Unlock()
		l.Unlock()
	}
	return reclaimed, nil
}

// sweepDiscountLocked lazily reclaims expired reservations of a single
// discount. Caller holds the discount's lock but not mu.
func (s *Store) sweepDiscountLocked(discountID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range s.reservations {
		if res.DiscountID == discountID && res.State == ledger.StateReserved && now.After(res.ExpiresAt) {
			res.State = ledger.StateExpired
			s.decrementLocked(discountID)
		}
	}
}

// outstandingReservedLocked counts live Reserved claims for a discount.
// Caller holds mu.
func (s *Store) outstandingReservedLocked(discountID string, now time.Time) int {
	n := 0
	for _, res := range s.reservations {
		if res.DiscountID == discountID && res.State == ledger.StateReserved && !now.After(res.ExpiresAt) {
			n++
		}
	}
	return n
}

// decrementLocked returns a usage slot to the discount. Caller holds mu.
func (s *Store) decrementLocked(discountID string) {
	if d, ok := s.discounts[discountID]; ok && d.UsageCount > 0 {
		d.UsageCount--
	}
}

func (s *Store) reservationByToken(token uuid.UUID) (*ledger.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[token]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

// Ping reports store health; it always succeeds but matches the
// readiness-check signature used for the PostgreSQL pool.
func (s *Store) Ping(context.Context) error {
	return nil
}
