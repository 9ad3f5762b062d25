package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
	"github.com/xenking/kart-fulfillment/internal/gateway"
	"github.com/xenking/kart-fulfillment/internal/handler"
	"github.com/xenking/kart-fulfillment/internal/notify"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
	"github.com/xenking/kart-fulfillment/pkg/health"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(2*time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	intentRepo := postgres.NewIntentRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	historyRepo := postgres.NewHistoryRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// External collaborators.
	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})
	notifier := notify.NewLogDispatcher(lg.Named("notify"))

	// Domain services.
	checkoutSvc := checkout.NewService(
		productRepo, cartRepo, gw, intentRepo,
		cfg.Gateway.Currency, cfg.PlatformFeeBps,
	)
	saga := settlement.NewSaga(
		gw, intentRepo, orderRepo,
		historyRepo, cartRepo,
		notifier, lg.Named("settlement"),
	)
	orderSvc := settlement.NewService(orderRepo, notifier, lg.Named("orders"))

	// Background repair of partially failed settlements.
	if cfg.Reconcile.Interval > 0 {
		reconciler := settlement.NewReconciler(
			orderRepo, historyRepo, cartRepo,
			lg.Named("reconcile"), cfg.Reconcile.Batch,
		)
		go runReconciler(ctx, reconciler, cfg.Reconcile.Interval, lg)
	}

	// HTTP handlers.
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(
		productRepo, cartRepo, checkoutSvc, saga, orderSvc,
		securityHandler, cfg.Gateway.KeyID,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

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
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("fulfillment-api", httpmiddleware.InstrumentConfig{
				TracerProvider: m.TracerProvider(),
				MeterProvider:  m.MeterProvider(),
			}),
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

// runReconciler periodically repairs settled orders with outstanding side
// effects until the context is cancelled.
func runReconciler(ctx context.Context, r *settlement.Reconciler, interval time.Duration, lg *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, err := r.Run(ctx)
			if err != nil {
				lg.Error("Reconciliation pass failed", zap.Error(err))
				continue
			}
			if repaired > 0 {
				lg.Info("Reconciliation pass completed", zap.Int("repaired", repaired))
			}
		}
	}
}
