package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/discount"
)

const getDiscountByCodeSQL = `SELECT id, code, discount_type, value, min_purchase, max_discount,
	start_date, end_date, is_active, usage_limit, usage_count, categories, products
	FROM discounts WHERE UPPER(code) = UPPER($1)`

const upsertDiscountSQL = `INSERT INTO discounts (
		id, code, discount_type, value, min_purchase, max_discount,
		start_date, end_date, is_active, usage_limit, categories, products
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		code = EXCLUDED.code,
		discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value,
		min_purchase = EXCLUDED.min_purchase,
		max_discount = EXCLUDED.max_discount,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date,
		is_active = EXCLUDED.is_active,
		usage_limit = EXCLUDED.usage_limit,
		categories = EXCLUDED.categories,
		products = EXCLUDED.products,
		updated_at = now()`

var _ discount.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements discount.Repository backed by PostgreSQL.
// Deactivated and out-of-window rows are returned as-is; deriving
// availability is the evaluator's job, so customers get a precise
// reason instead of a bare not-found.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByCode looks up a discount by its code (case-insensitive).
// Returns discount.ErrNotFound when no such code exists.
func (r *CatalogRepository) GetByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

// Upsert inserts or replaces a discount definition by id. The live
// usage_count is never overwritten.
func (r *CatalogRepository) Upsert(ctx context.Context, d *discount.Discount) error {
	var startDate, endDate *time.Time
	if !d.StartDate.IsZero() {
		startDate = &d.StartDate
	}
	if !d.EndDate.IsZero() {
		endDate = &d.EndDate
	}
	categories, products := d.Categories, d.Products
	if categories == nil {
		categories = []string{}
	}
	if products == nil {
		products = []string{}
	}

	_, err := r.pool.Exec(ctx, upsertDiscountSQL,
		d.ID, d.Code, string(d.Type), d.Value, d.MinPurchase, d.MaxDiscount,
		startDate, endDate, d.IsActive, int32(d.UsageLimit),
		categories, products,
	)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", d.Code, err)
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d            discount.Discount
		discountType string
		value        decimal.Decimal
		minPurchase  decimal.Decimal
		maxDiscount  decimal.Decimal
		startDate    *time.Time
		endDate      *time.Time
		usageLimit   int32
		usageCount   int32
	)
	err := row.Scan(
		&d.ID, &d.Code, &discountType, &value, &minPurchase, &maxDiscount,
		&startDate, &endDate, &d.IsActive, &usageLimit, &usageCount,
		&d.Categories, &d.Products,
	)
	d.Type = discount.Type(discountType)
	d.Value = value
	d.MinPurchase = minPurchase
	d.MaxDiscount = maxDiscount
	if startDate != nil {
		d.StartDate = *startDate
	}
	if endDate != nil {
		d.EndDate = *endDate
	}
	d.UsageLimit = int(usageLimit)
	d.UsageCount = int(usageCount)
	return d, err
}
