// Command seed-db runs migrations and loads a small set of demo
// discounts useful for local development and manual testing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/storage/postgres"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedDiscounts(ctx, postgres.NewCatalogRepository(pool))
}

func seedDiscounts(ctx context.Context, catalog *postgres.CatalogRepository) error {
	slog.Info("seeding demo discounts")

	now := time.Now().UTC()
	discounts := []discount.Discount{
		{
			ID:          "seed-summer25",
			Code:        "SUMMER25",
			Type:        discount.TypePercentage,
			Value:       decimal.NewFromInt(25),
			MinPurchase: decimal.NewFromInt(100),
			MaxDiscount: decimal.NewFromInt(500),
			Categories:  []string{"apparel", "footwear"},
			IsActive:    true,
		},
		{
			ID:       "seed-flat50",
			Code:     "FLAT50",
			Type:     discount.TypeFixed,
			Value:    decimal.NewFromInt(50),
			IsActive: true,
		},
		{
			ID:       "seed-expired10",
			Code:     "EXPIRED10",
			Type:     discount.TypePercentage,
			Value:    decimal.NewFromInt(10),
			EndDate:  now.AddDate(0, -1, 0),
			IsActive: true,
		},
		{
			ID:         "seed-bogoshoe",
			Code:       "BOGOSHOE",
			Type:       discount.TypeBOGO,
			Categories: []string{"footwear"},
			IsActive:   true,
		},
		{
			ID:         "seed-limit1",
			Code:       "LIMIT1",
			Type:       discount.TypePercentage,
			Value:      decimal.NewFromInt(15),
			UsageLimit: 1,
			IsActive:   true,
		},
	}

	for i := range discounts {
		d := &discounts[i]
		if err := catalog.Upsert(ctx, d); err != nil {
			return errors.Wrapf(err, "upsert discount %s", d.Code)
		}
		slog.Info("upserted discount",
			slog.String("code", d.Code),
			slog.String("type", string(d.Type)),
		)
	}

	return nil
}
