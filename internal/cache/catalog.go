package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/cartloop/promo-engine/internal/domain/discount"
)

var _ discount.Repository = (*CachedCatalog)(nil)

// CachedCatalog is a read-through decorator over a discount repository.
// Preview traffic is read-heavy and tolerant of slightly stale usage
// counters (the ledger is the authoritative gate at reserve time), so
// a short TTL takes most lookups off the database.
type CachedCatalog struct {
	inner discount.Repository
	cache Cache
	ttl   time.Duration
}

// NewCachedCatalog wraps inner with the given cache and TTL.
func NewCachedCatalog(inner discount.Repository, c Cache, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{inner: inner, cache: c, ttl: ttl}
}

// GetByCode returns the cached definition when fresh, falling back to
// the inner repository. Cache failures are treated as misses; the
// catalog must keep answering when Redis is down.
func (c *CachedCatalog) GetByCode(ctx context.Context, code string) (*discount.Discount, error) {
	key := "discount:" + discount.NormalizeCode(code)

	if data, err := c.cache.Get(ctx, key); err == nil {
		var d discount.Discount
		if err := json.Unmarshal(data, &d); err == nil {
			return &d, nil
		}
		_ = c.cache.Delete(ctx, key)
	}

	d, err := c.inner.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if data, merr := json.Marshal(d); merr == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}
	return d, nil
}

// Invalidate drops the cached entry for a code.
func (c *CachedCatalog) Invalidate(ctx context.Context, code string) error {
	if err := c.cache.Delete(ctx, "discount:"+discount.NormalizeCode(code)); err != nil {
		return errors.Wrap(err, "invalidate discount cache")
	}
	return nil
}
