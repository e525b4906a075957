package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloop/promo-engine/internal/domain/discount"
)

type countingRepo struct {
	d     *discount.Discount
	err   error
	calls int
}

func (r *countingRepo) GetByCode(_ context.Context, _ string) (*discount.Discount, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.d
	return &cp, nil
}

// failingCache errors on every operation, simulating a Redis outage.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Delete(context.Context, string) error {
	return errors.New("cache down")
}

func testDiscount() *discount.Discount {
	return &discount.Discount{
		ID:       "d1",
		Code:     "SAVE10",
		Type:     discount.TypePercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	}
}

func TestCachedCatalogReadThrough(t *testing.T) {
	repo := &countingRepo{d: testDiscount()}
	c := NewCachedCatalog(repo, NewInMemoryCache(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := c.GetByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", got.Code)
		assert.True(t, decimal.NewFromInt(10).Equal(got.Value))
	}

	// Only the first lookup reached the repository.
	assert.Equal(t, 1, repo.calls)
}

func TestCachedCatalogNormalizesKey(t *testing.T) {
	repo := &countingRepo{d: testDiscount()}
	c := NewCachedCatalog(repo, NewInMemoryCache(), time.Minute)
	ctx := context.Background()

	_, err := c.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	_, err = c.GetByCode(ctx, "  save10 ")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls)
}

func TestCachedCatalogMissPassesThroughError(t *testing.T) {
	repo := &countingRepo{err: discount.ErrNotFound}
	c := NewCachedCatalog(repo, NewInMemoryCache(), time.Minute)

	_, err := c.GetByCode(context.Background(), "MISSING")

	require.ErrorIs(t, err, discount.ErrNotFound)
}

func TestCachedCatalogSurvivesCacheOutage(t *testing.T) {
	repo := &countingRepo{d: testDiscount()}
	c := NewCachedCatalog(repo, failingCache{}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.GetByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", got.Code)
	}

	// Every lookup fell through to the repository.
	assert.Equal(t, 3, repo.calls)
}

func TestCachedCatalogInvalidate(t *testing.T) {
	repo := &countingRepo{d: testDiscount()}
	c := NewCachedCatalog(repo, NewInMemoryCache(), time.Minute)
	ctx := context.Background()

	_, err := c.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, "save10"))

	_, err = c.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestCachedCatalogDropsCorruptEntries(t *testing.T) {
	repo := &countingRepo{d: testDiscount()}
	mem := NewInMemoryCache()
	c := NewCachedCatalog(repo, mem, time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "discount:SAVE10", []byte("{broken"), time.Minute))

	got, err := c.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)
	assert.Equal(t, 1, repo.calls)
}
