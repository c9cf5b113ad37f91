package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paywall/internal/api/v1/handler"
	"paywall/internal/archive"
	"paywall/internal/config"
	"paywall/internal/gateway"
	"paywall/internal/idempotency"
	"paywall/internal/metrics"
	"paywall/internal/middleware"
	"paywall/internal/pubsub"
	"paywall/internal/repository"
	"paywall/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires every dependency and returns the root handler. The returned close
// function releases pools and clients and must be called on shutdown.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Str("payment_mode", cfg.PaymentMode).Msg("Router initializing")

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		closeAll()
		return nil, nil, err
	}

	// 1. Database pool
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pool.Close)
	logger.Info().Msg("Database connection successful")

	// 2. Payment gateway, with the client secret from Secret Manager when configured
	var resolver *service.SecretResolver
	if cfg.PayPalClientSecret == "" && cfg.PayPalClientSecretResource != "" {
		smClient, err := service.NewSecretManagerClient(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = smClient.Close() })
		resolver = service.NewSecretResolver(smClient, cfg.GCPProjectID)
	}
	secret, err := service.PayPalClientSecret(ctx, cfg, resolver)
	if err != nil {
		return fail(fmt.Errorf("resolve PayPal client secret: %w", err))
	}
	gw, err := gateway.New(cfg, secret, logger)
	if err != nil {
		return fail(err)
	}

	// 3. Optional webhook de-duplication
	var dedupe idempotency.Store = idempotency.NoopStore{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		dedupe = idempotency.NewRedisStore(rdb, "paywall:webhook:", cfg.WebhookDedupeTTL())
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Webhook de-duplication enabled")
	}

	// 4. Optional subscription events
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
		logger.Info().Str("topic", cfg.PubSubSubscriptionTopic).Msg("Subscription events enabled")
	}

	// 5. Optional webhook archive
	var archiver archive.Archiver = archive.NoopArchiver{}
	if cfg.WebhookArchiveBucket != "" {
		s3Client, err := archive.NewS3Client(ctx, archive.S3Options{
			URL:       cfg.S3URL,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return fail(err)
		}
		archiver = archive.NewS3Archiver(s3Client, cfg.WebhookArchiveBucket)
		logger.Info().Str("bucket", cfg.WebhookArchiveBucket).Msg("Webhook archive enabled")
	}

	// 6. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 7. Repositories, services and handlers
	validate := validator.New(validator.WithRequiredStructEnabled())
	userRepo := repository.NewUserRepo(pool)
	webhookEventRepo := repository.NewWebhookEventRepository(pool)

	userSvc := service.NewUserService(userRepo, logger)
	subSvc := service.NewSubscriptionService(service.SubscriptionDeps{
		Users:          userRepo,
		Gateway:        gw,
		WebhookEvents:  webhookEventRepo,
		Dedupe:         dedupe,
		Archiver:       archiver,
		Publisher:      publisher,
		EventTopic:     cfg.PubSubSubscriptionTopic,
		GatewayTimeout: cfg.GatewayTimeout(),
		Metrics:        m,
	}, logger)
	entitlementSvc := service.NewEntitlementService(service.EntitlementDeps{
		Users:            userRepo,
		Publisher:        publisher,
		EventTopic:       cfg.PubSubSubscriptionTopic,
		EnforcePaidQuota: cfg.EnforcePaidQuota,
		Metrics:          m,
	}, logger)

	userHandler := handler.NewUserHandler(userSvc, validate, logger)
	subHandler := handler.NewSubscriptionHandler(subSvc, entitlementSvc, validate, logger)
	webhookHandler := handler.NewWebhookHandler(subSvc, logger)

	// 8. Routes
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)

	apiV1Mux := http.NewServeMux()
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.HandleFunc("/health", healthHandler(pool))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	// 9. CORS and request logging
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), closeAll, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(withDevSSL(cfg.Environment, cfg.DBConnectionString))
	if err != nil {
		return nil, fmt.Errorf("parse DB connection string: %w", err)
	}
	// Transaction poolers outside development cannot hold prepared statements.
	if cfg.Environment != "development" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open DB pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	return pool, nil
}

// withDevSSL disables TLS for local databases unless the DSN says otherwise.
func withDevSSL(env, dsn string) string {
	if env != "development" || strings.Contains(dsn, "sslmode") {
		return dsn
	}
	separator := " "
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		separator = "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
	}
	return dsn + separator + "sslmode=disable"
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
