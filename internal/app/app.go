package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/db"
	kafkabroker "github.com/xenking/kart-checkout/internal/broker/kafka"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/seed"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	redisstore "github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// backend is the storage the services run on.
type backend struct {
	carts   txn.Transactor[cart.Tx]
	orders  txn.Transactor[order.Tx]
	catalog catalog.Reader
	apikeys auth.Repository
	close   func()
}

func openPostgres(ctx context.Context, cfg *Config, healthSvc *health.Health) (*backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	store := postgres.New(pool)
	return &backend{
		carts:   postgres.Transactor(store, func(tx *postgres.Tx) cart.Tx { return tx }),
		orders:  postgres.Transactor(store, func(tx *postgres.Tx) order.Tx { return tx }),
		catalog: store.Catalog(),
		apikeys: store.APIKeys(),
		close:   pool.Close,
	}, nil
}

func openMemory(ctx context.Context, cfg *Config) (*backend, error) {
	store := memory.New()
	doc, err := seed.Parse(db.SeedCatalog)
	if err != nil {
		return nil, errors.Wrap(err, "parse seed catalog")
	}
	seeder := memory.Transactor(store, func(tx *memory.Tx) seed.Tx { return tx })
	if err := seed.Apply(ctx, seeder, doc, []byte(cfg.APIKeyPepper)); err != nil {
		return nil, errors.Wrap(err, "seed memory store")
	}
	return &backend{
		carts:   memory.Transactor(store, func(tx *memory.Tx) cart.Tx { return tx }),
		orders:  memory.Transactor(store, func(tx *memory.Tx) order.Tx { return tx }),
		catalog: store.Catalog(),
		apikeys: store.APIKeys(),
		close:   func() {},
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Bool("memory", cfg.Memory))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	var (
		store *backend
		err   error
	)
	if cfg.Memory {
		lg.Warn("Using in-memory store, data is lost on restart")
		store, err = openMemory(ctx, cfg)
	} else {
		store, err = openPostgres(ctx, cfg, healthSvc)
	}
	if err != nil {
		return err
	}
	defer store.close()

	policy, err := cfg.Checkout.Policy()
	if err != nil {
		return errors.Wrap(err, "checkout policy")
	}
	orderOpts := []order.Option{
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		orderOpts = append(orderOpts,
			order.WithIdempotencyStore(redisstore.NewIdempotencyStore(client, cfg.Redis.IdempotencyTTL)))
		lg.Info("Idempotent order creation enabled", zap.String("redis", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafkabroker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Kafka.Brokers))
		orderOpts = append(orderOpts, order.WithPublisher(pub))
		lg.Info("Order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	cartService, err := cart.NewService(store.carts, cart.WithMeterProvider(m.MeterProvider()))
	if err != nil {
		return errors.Wrap(err, "create cart service")
	}
	orderService, err := order.NewService(store.orders, policy, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	pricingService := pricing.NewService(store.catalog)

	// HTTP: health endpoints + API routes on one mux.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(cartService, orderService, pricingService).
		Register(mux, handler.NewSecurityHandler(store.apikeys, []byte(cfg.APIKeyPepper)))
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

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
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.HeaderKeyFunc(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("kart-checkout", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
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
