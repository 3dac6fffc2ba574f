// Command quotakit serves the billing API: checkout, payment verification,
// gateway webhooks, subscription snapshots and quota consumption.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	billingmod "github.com/dmitrymomot/quotakit/modules/billing"
	"github.com/dmitrymomot/quotakit/pkg/audit"
	"github.com/dmitrymomot/quotakit/pkg/authguard"
	"github.com/dmitrymomot/quotakit/pkg/clientip"
	"github.com/dmitrymomot/quotakit/pkg/config"
	"github.com/dmitrymomot/quotakit/pkg/environment"
	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/httpserver"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/ratelimiter"
	"github.com/dmitrymomot/quotakit/pkg/redis"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	"github.com/dmitrymomot/quotakit/svc/billing"
	"github.com/dmitrymomot/quotakit/svc/billing/memstore"
	"github.com/dmitrymomot/quotakit/svc/billing/pgstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "quotakit:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	env := environment.Parse(cfg.Env)
	log := logger.New(
		logger.WithEnvironment(env, cfg.Name),
		logger.WithContextExtractors(environment.LoggerExtractor(), requestIDExtractor),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog := tier.Default()
	if cfg.TierCatalogPath != "" {
		var err error
		if catalog, err = tier.LoadFile(cfg.TierCatalogPath); err != nil {
			return err
		}
	}

	var checks []httpserver.Check

	store, auditStorage, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: pinger.Ping})
	}

	var rdb *goredis.Client
	if cfg.RateLimitBackend == backendRedis {
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return err
		}
		if rdb, err = redis.Connect(ctx, rcfg); err != nil {
			return err
		}
		defer rdb.Close()
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := billing.NewMetrics(reg)
	if err != nil {
		return err
	}

	auditWriter, err := audit.NewAsyncWriter(auditStorage, audit.AsyncOptions{BatchSize: 50, BatchTimeout: time.Second})
	if err != nil {
		return err
	}
	auditLog, err := audit.NewLogger(audit.MultiStorage(auditWriter, audit.NewSlogStorage(log)),
		audit.WithTenantIDExtractor(func(ctx context.Context) (string, bool) {
			id, ok := jwt.TenantID(ctx)
			return id.String(), ok
		}),
		audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
			id := middleware.GetReqID(ctx)
			return id, id != ""
		}),
	)
	if err != nil {
		return err
	}

	lifecycle, err := billing.NewLifecycle(cfg.policy())
	if err != nil {
		return err
	}

	gw, err := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret,
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithRetries(2, gateway.DefaultBackoff()),
		gateway.WithCircuitBreaker(gateway.NewCircuitBreaker(5, 2, 30*time.Second)),
		gateway.WithClientLogger(log),
	)
	if err != nil {
		return err
	}

	var (
		bucketStore ratelimiter.Store       = ratelimiter.NewMemoryStore()
		windowStore ratelimiter.WindowStore = ratelimiter.NewMemoryWindowStore(time.Minute)
		guardStore  authguard.Store         = authguard.NewMemoryStore(10_000, 24*time.Hour)
	)
	if rdb != nil {
		bucketStore = ratelimiter.NewRedisStore(rdb, "quotakit:orders:")
		windowStore = ratelimiter.NewRedisWindowStore(rdb, "quotakit:api:")
		guardStore = authguard.NewRedisStore(rdb, "quotakit:auth:")
	}

	orderLimiter, err := ratelimiter.NewBucket(bucketStore, ratelimiter.Config{
		Capacity:       cfg.OrderRateCapacity,
		RefillRate:     cfg.OrderRateCapacity,
		RefillInterval: cfg.OrderRateInterval,
	})
	if err != nil {
		return err
	}

	opts := []billing.Option{
		billing.WithLogger(log),
		billing.WithMetrics(metrics),
		billing.WithAudit(auditLog),
		billing.WithLifecycle(lifecycle),
		billing.WithOrderLimiter(orderLimiter),
		billing.WithDirectory(jwt.ClaimsDirectory{}),
		billing.WithKeyID(cfg.GatewayKeyID),
		billing.WithMaxAttempts(cfg.WebhookMaxAttempts),
		billing.WithBackoff(gateway.ExponentialBackoff{Initial: time.Minute, Max: time.Hour, Multiplier: 2}),
	}
	ledger, err := billing.NewLedger(store, catalog, opts...)
	if err != nil {
		return err
	}
	verifier, err := billing.NewVerifier(store, gw, catalog, cfg.GatewayKeySecret, opts...)
	if err != nil {
		return err
	}
	processor, err := billing.NewProcessor(store, verifier, cfg.GatewayWebhookSecret, opts...)
	if err != nil {
		return err
	}
	replayer, err := billing.NewReplayer(store, processor, opts...)
	if err != nil {
		return err
	}

	guardCfg := authguard.DefaultConfig()
	guardCfg.MaxFailures = cfg.AuthMaxFailures
	guardCfg.Window = cfg.AuthFailureWindow
	guard, err := authguard.New(guardStore, guardCfg,
		authguard.WithLogger(log),
		authguard.WithLockoutHook(func(string, time.Duration) { metrics.AuthLockout() }),
	)
	if err != nil {
		return err
	}
	tokens, err := jwt.NewService([]byte(cfg.JWTSigningKey), jwt.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	limiter := ratelimiter.NewTiered(windowStore, catalog,
		ratelimiter.WithLogger(log),
		ratelimiter.WithRejectHook(metrics.RateLimitRejected),
		ratelimiter.WithDegradedHook(metrics.RateLimitDegraded),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, environment.Middleware(env))
	r.Get("/health/live", httpserver.HealthCheckHandler(log, 0))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, 2*time.Second, checks...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/", billingmod.Router(billingmod.RouterOptions{
		Orders:        billingmod.NewOrderService(verifier, log),
		Subscriptions: billingmod.NewSubscriptionService(ledger, log),
		Quota:         billingmod.NewQuotaService(ledger, log),
		Webhooks:      billingmod.NewWebhookService(processor, log),
		Middlewares: []func(http.Handler) http.Handler{
			jwt.Middleware(jwt.MiddlewareConfig{
				Service: tokens,
				Guard:   guard,
				Source:  clientip.Source(cfg.TrustedIPHeaders...),
				Logger:  log,
			}),
			billingmod.RateLimit(limiter, ledger, log),
		},
	}))

	scheduler := cron.New()
	if _, err := replayer.Schedule(ctx, scheduler, cfg.WebhookReplaySchedule, cfg.WebhookReplayTimeout); err != nil {
		return fmt.Errorf("schedule webhook replay: %w", err)
	}

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, r)
	})
	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auditWriter.Close(flushCtx); err != nil {
		log.Error("failed to flush audit events", logger.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("quotakit stopped")
	return nil
}

// openStore connects the billing store and the matching audit storage.
func openStore(ctx context.Context, cfg appConfig, log *slog.Logger) (billing.Store, audit.BatchStorage, func(), error) {
	if cfg.StoreBackend == backendMemory {
		log.Warn("using in-memory billing store; state is lost on restart")
		return memstore.New(), audit.NewMemoryStorage(), func() {}, nil
	}

	var pcfg pg.Config
	if err := config.Load(&pcfg); err != nil {
		return nil, nil, nil, err
	}
	pool, err := pg.Connect(ctx, pcfg)
	if err != nil {
		return nil, nil, nil, err
	}
	db := pg.OpenDB(pool)
	if err := pg.Migrate(ctx, db, pgstore.Migrations(), pcfg, log); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		_ = db.Close()
		pool.Close()
	}
	return pingStore{Store: pgstore.New(db), ping: pg.Healthcheck(pool)}, pgstore.NewAuditStorage(db), closeFn, nil
}

// pingStore exposes the database healthcheck next to the store.
type pingStore struct {
	*pgstore.Store
	ping func(context.Context) error
}

func (s pingStore) Ping(ctx context.Context) error { return s.ping(ctx) }

func requestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	id := middleware.GetReqID(ctx)
	if id == "" {
		return slog.Attr{}, false
	}
	return logger.RequestID(id), true
}
