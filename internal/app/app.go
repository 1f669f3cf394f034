package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/payment"
	"github.com/xenking/optic-orders/internal/domain/pricing"
	"github.com/xenking/optic-orders/internal/handler"
	"github.com/xenking/optic-orders/internal/notify"
	"github.com/xenking/optic-orders/internal/storage/postgres"
	"github.com/xenking/optic-orders/internal/storage/redisx"
	"github.com/xenking/optic-orders/pkg/health"
	"github.com/xenking/optic-orders/pkg/httpmiddleware"
)

const serviceName = "optic-orders"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.Options{MaxConns: cfg.DatabaseConns})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Payment replay guard: shared across instances when redis is configured.
	var replay payment.ReplayGuard = payment.NewMemoryGuard()
	if cfg.Redis.URL != "" {
		client, err := redisx.NewClient(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = client.Close() }()
		replay = redisx.NewReplayGuard(client)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		lg.Warn("Redis is not configured, payment replay guard is per instance")
	}

	var notifier order.Notifier = notify.NewLog(lg.Named("events"))
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return errors.Wrap(err, "create kafka notifier")
		}
		defer func() {
			if err := k.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		notifier = k
		healthSvc.AddReadinessCheck("kafka", 2*time.Second, health.PingCheck(k), health.WithThresholds(5, 1))
	}

	api, err := newAPIHandler(ctx, cfg, apiDeps{
		Pool:      pool,
		Replay:    replay,
		Notifier:  notifier,
		Health:    healthSvc,
		Telemetry: m,
	})
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           api,
	}

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

type apiDeps struct {
	Pool      *pgxpool.Pool
	Replay    payment.ReplayGuard
	Notifier  order.Notifier
	Health    *health.Health
	Telemetry httpmiddleware.Telemetry
}

// newAPIHandler builds the order service and returns the fully wrapped
// HTTP handler, health endpoints included.
func newAPIHandler(ctx context.Context, cfg *Config, d apiDeps) (http.Handler, error) {
	threshold, fee, err := cfg.Pricing.Amounts()
	if err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}
	numbers, err := order.NewNumberGenerator(cfg.Orders.NumberPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "order number generator")
	}

	gateway := payment.NewRazorpay(payment.RazorpayConfig{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		BaseURL:   cfg.Razorpay.BaseURL,
	})

	orderService, err := order.NewService(order.Deps{
		Store:          postgres.NewOrderStore(d.Pool),
		Products:       postgres.NewProductRepository(d.Pool),
		Addresses:      postgres.NewAddressRepository(d.Pool),
		Coupons:        postgres.NewCouponRepository(d.Pool),
		Ledger:         postgres.NewTrackingRepository(d.Pool),
		Pricing:        pricing.NewEngine(pricing.WithShipping(threshold, fee)),
		Numbers:        numbers,
		Verifier:       payment.NewVerifier(cfg.Razorpay.KeySecret),
		Replay:         d.Replay,
		Gateway:        gateway,
		Currency:       cfg.Razorpay.Currency,
		ReplayTTL:      cfg.Redis.ReplayTTL,
		Notifier:       d.Notifier,
		MeterProvider:  d.Telemetry.MeterProvider(),
		TracerProvider: d.Telemetry.TracerProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	authn := handler.NewAuthenticator(postgres.NewSessionRepository(d.Pool), []byte(cfg.SessionPepper))
	h := handler.NewHandler(handler.HandlerConfig{GatewayKeyID: gateway.KeyID()}, orderService)

	mux := chi.NewRouter()
	mux.Get("/livez", d.Health.LiveEndpoint)
	mux.Get("/readyz", d.Health.ReadyEndpoint)
	h.Routes(mux, authn.Middleware)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, d.Telemetry),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), nil
}
