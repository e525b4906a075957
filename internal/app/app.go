// Package app wires configuration, storage, the promotion engine, and
// the HTTP server into a running service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	sdkapp "github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cartloop/promo-engine/internal/cache"
	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/ledger"
	"github.com/cartloop/promo-engine/internal/domain/promo"
	"github.com/cartloop/promo-engine/internal/handler"
	"github.com/cartloop/promo-engine/internal/storage/memory"
	"github.com/cartloop/promo-engine/internal/storage/postgres"
	"github.com/cartloop/promo-engine/pkg/health"
	"github.com/cartloop/promo-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *sdkapp.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Storage: PostgreSQL when configured, otherwise the in-memory
	// store that backs both the catalog and the ledger.
	var (
		catalog discount.Repository
		ldg     ledger.Ledger
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})

		catalog = postgres.NewCatalogRepository(pool)
		ldg = postgres.NewLedgerRepository(pool)
	} else {
		lg.Warn("No database configured, using in-memory store")
		store := memory.NewStore()
		catalog = store
		ldg = store
	}

	// Catalog cache: Redis when configured, in-process otherwise.
	var catalogCache cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, "", cfg.RedisDB)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rc.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(rc))
		catalogCache = rc
	} else {
		catalogCache = cache.NewInMemoryCache()
	}
	cachedCatalog := cache.NewCachedCatalog(catalog, catalogCache, cfg.CacheTTL)

	engine := promo.New(cachedCatalog, ldg, cfg.Reservation.TTL)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Periodic reclamation of expired reservations. Reserve and Commit
	// also sweep lazily, so this only bounds how long expired rows can
	// hold usage slots for idle discounts.
	go func() {
		ticker := time.NewTicker(cfg.Reservation.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ldg.SweepExpired(ctx)
				if err != nil {
					lg.Error("Sweep expired reservations", zap.Error(err))
					continue
				}
				if n > 0 {
					lg.Info("Swept expired reservations", zap.Int("count", n))
				}
			}
		}
	}()

	h := handler.New(engine, cachedCatalog)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("promo-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
