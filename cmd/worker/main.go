package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/config"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/inventory"
	"github.com/amara-dev/backend-soko/internal/jobs"
	"github.com/amara-dev/backend-soko/internal/lock"
	"github.com/amara-dev/backend-soko/internal/notify"
	"github.com/amara-dev/backend-soko/internal/obs"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/payment"
	"github.com/amara-dev/backend-soko/internal/repo"
	"github.com/amara-dev/backend-soko/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	paymentStore := &repo.PaymentStore{DB: pool}
	orderStore := &repo.OrderStore{DB: pool}
	cartStore := &repo.CartStore{DB: pool}
	couponStore := &repo.CouponStore{DB: pool}
	inventoryStore := &repo.InventoryStore{DB: pool}
	endpointStore := &repo.EndpointStore{DB: pool}
	eventStore := &repo.EventStore{DB: pool}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task transport")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	bus := &events.Bus{
		Store: eventStore,
		Notifiers: []events.Notifier{
			notify.Enqueuer{Client: taskClient, QueueName: cfg.NotifyQueueName},
		},
	}

	orderSvc := &order.Service{
		Store:   orderStore,
		Carts:   cartStore,
		Coupons: &coupon.Service{Store: couponStore},
		Inventory: &inventory.Service{
			Store:  inventoryStore,
			Events: bus,
			Log:    logger.With().Str("component", "inventory").Logger(),
		},
		Events: bus,
		Log:    logger.With().Str("component", "order").Logger(),
		TaxBps: cfg.TaxBps,
	}

	orchestrator := &payment.Orchestrator{
		Store:         paymentStore,
		Orders:        orderSvc,
		Events:        bus,
		Log:           logger.With().Str("component", "payment").Logger(),
		IntentTTL:     cfg.PaymentIntentTTL,
		RetryAttempts: cfg.RetryMaxAttempts,
		RetryBase:     cfg.RetryBase,
	}

	webhookClient := &http.Client{Timeout: cfg.WebhookTimeout}
	if cfg.WebhookInsecureTLS {
		webhookClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	deliverer := &notify.Deliverer{
		Store:  endpointStore,
		Client: webhookClient,
		Resilient: &resilience.HTTPClient{
			Client:      webhookClient,
			Breaker:     resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("webhook-delivery").WithLogger(logger),
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Timeout:     cfg.WebhookTimeout,
		},
		Log: logger.With().Str("component", "notify").Logger(),
	}

	handler := &jobs.Handler{
		Deliverer: deliverer,
		Email: &notify.EmailNotifier{
			Mail:    notify.LogSender{Log: logger},
			Enabled: cfg.EmailEnabled,
			From:    cfg.EmailFrom,
		},
		Orchestrator: orchestrator,
		Locker:       &lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:      cfg.LockTTL,
		ExpiryBatch:  int32(cfg.PaymentExpiryBatch),
		Log:          logger,
	}

	mux := asynq.NewServeMux()
	handler.Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			cfg.NotifyQueueName: 6,
			"default":           4,
		},
		Logger: asynqLogger{logger},
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	every := cfg.PaymentExpiryEvery
	if every <= 0 {
		every = time.Minute
	}
	if _, err := scheduler.Register("@every "+every.String(), asynq.NewTask(jobs.TaskPaymentExpiry, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register payment expiry schedule")
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	logger.Info().Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// asynqLogger adapts zerolog to the asynq logging interface.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msgf("%v", args) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msgf("%v", args) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msgf("%v", args) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msgf("%v", args) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msgf("%v", args) }

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "soko-worker"
	if cfg.DBStatementCacheCap >= 0 {
		poolConfig.ConnConfig.StatementCacheCapacity = cfg.DBStatementCacheCap
	}
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMaxIdleConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
