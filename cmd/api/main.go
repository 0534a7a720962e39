package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/app"
	"github.com/amara-dev/backend-soko/internal/audit"
	"github.com/amara-dev/backend-soko/internal/auth"
	"github.com/amara-dev/backend-soko/internal/cart"
	"github.com/amara-dev/backend-soko/internal/catalog"
	"github.com/amara-dev/backend-soko/internal/config"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/health"
	httpmw "github.com/amara-dev/backend-soko/internal/http/middleware"
	"github.com/amara-dev/backend-soko/internal/inventory"
	"github.com/amara-dev/backend-soko/internal/notify"
	"github.com/amara-dev/backend-soko/internal/obs"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/payment"
	"github.com/amara-dev/backend-soko/internal/ratelimit"
	"github.com/amara-dev/backend-soko/internal/repo"
	"github.com/amara-dev/backend-soko/internal/resilience"
	"github.com/amara-dev/backend-soko/internal/security"
	"github.com/amara-dev/backend-soko/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "soko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "soko-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		m, err := migrate.New(envOrDefault("MIGRATIONS_URL", "file://db/migrations"), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open migrations")
		}
		if err := app.RunMigrations(m); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task client")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	cartStore := &repo.CartStore{DB: pool}
	orderStore := &repo.OrderStore{DB: pool}
	couponStore := &repo.CouponStore{DB: pool}
	inventoryStore := &repo.InventoryStore{DB: pool}
	paymentStore := &repo.PaymentStore{DB: pool}
	endpointStore := &repo.EndpointStore{DB: pool}
	auditStore := &repo.AuditStore{DB: pool}
	eventStore := &repo.EventStore{DB: pool}
	priceStore := &repo.PriceStore{DB: pool}

	bus := &events.Bus{
		Store: eventStore,
		Notifiers: []events.Notifier{
			notify.Enqueuer{Client: taskClient, QueueName: cfg.NotifyQueueName},
		},
	}

	couponSvc := &coupon.Service{Store: couponStore}
	inventorySvc := &inventory.Service{
		Store:  inventoryStore,
		Events: bus,
		Log:    logger.With().Str("component", "inventory").Logger(),
	}
	prices := &catalog.PriceSource{
		Store: priceStore,
		Cache: catalog.NewCache(redisClient, cfg.PriceCacheTTL),
		Log:   logger.With().Str("component", "catalog").Logger(),
	}
	cartSvc := &cart.Service{
		Store:   cartStore,
		Prices:  prices,
		Coupons: couponSvc,
		TaxBps:  cfg.TaxBps,
		TTL:     cfg.CartTTL,
	}
	orderSvc := &order.Service{
		Store:     orderStore,
		Carts:     cartStore,
		Coupons:   couponSvc,
		Inventory: inventorySvc,
		Events:    bus,
		Shipping:  priceStore,
		Validate:  validator.New(),
		Log:       logger.With().Str("component", "order").Logger(),
		TaxBps:    cfg.TaxBps,
	}
	auditSvc := &audit.Service{
		Store: auditStore,
		Log:   logger.With().Str("component", "audit").Logger(),
	}

	orchestrator := &payment.Orchestrator{
		Store:    paymentStore,
		Orders:   orderSvc,
		Gateways: buildGateways(cfg),
		Clients: map[string]payment.Client{
			"mpesa": payment.Mpesa{
				ConsumerKey:   cfg.MpesaConsumerKey,
				WebhookSecret: cfg.MpesaWebhookSecret,
				ShortCode:     cfg.MpesaShortCode,
				BaseURL:       cfg.MpesaBaseURL,
				Sandbox:       cfg.MpesaSandbox,
			},
			"paystack": payment.Paystack{
				SecretKey: cfg.PaystackSecretKey,
				BaseURL:   cfg.PaystackBaseURL,
				Sandbox:   cfg.PaystackSandbox,
			},
		},
		Events:        bus,
		Log:           logger.With().Str("component", "payment").Logger(),
		IntentTTL:     cfg.PaymentIntentTTL,
		RetryAttempts: cfg.RetryMaxAttempts,
		RetryBase:     cfg.RetryBase,
		Breakers: map[string]*resilience.Breaker{
			"mpesa":    resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("mpesa").WithLogger(logger),
			"paystack": resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithTarget("paystack").WithLogger(logger),
		},
	}

	parser := auth.TokenParser{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	authmw := auth.Middleware{Parser: parser}

	var defaultStore uuid.UUID
	if trimmed := strings.TrimSpace(cfg.DefaultStoreID); trimmed != "" {
		defaultStore, err = uuid.Parse(trimmed)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse DEFAULT_STORE_ID")
		}
	}
	resolver := tenant.NewResolver("X-Store-ID", defaultStore)

	cartHandler := &cart.Handler{Service: cartSvc}
	orderHandler := &order.Handler{Service: orderSvc}
	orderAdmin := &order.AdminHandler{Service: orderSvc}
	paymentHandler := &payment.Handler{Orchestrator: orchestrator}
	inventoryHandler := &inventory.Handler{Service: inventorySvc, Audit: auditSvc}
	couponAdmin := &coupon.AdminHandler{Store: couponStore, Service: couponSvc}
	endpointAdmin := &notify.AdminHandler{Store: endpointStore}
	webhookHandler := payment.Webhook{
		Orchestrator: orchestrator,
		Replay:       redisClient,
		ReplayTTL:    cfg.WebhookReplayTTL,
	}
	webhookLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:webhook:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return chi.URLParam(r, "gateway") },
			Window: time.Minute,
			Max:    cfg.WebhookRatePerMin,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("webhook rate limit") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: envInt64("SECURE_MAX_BODY_BYTES", 1<<20)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Store-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if limiterStore, err := app.NewLimiterStore(redisClient); err != nil {
		logger.Error().Err(err).Msg("initialise rate limiter store")
	} else if mw := app.NewRateLimitMiddleware(limiterStore, int64(cfg.APIRatePerMin), time.Minute); mw != nil {
		r.Use(mw.Handler)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker: readinessChecker{db: pool, redis: redisClient},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(resolver.Middleware)
		v.Use(authmw.Authenticate)

		v.Route("/carts", func(c chi.Router) {
			c.Use(httpmw.RequireStore)
			c.Post("/", cartHandler.Ensure)
			c.Post("/{cartId}/items", cartHandler.AddItem)
			c.Patch("/{cartId}/items/{itemId}", cartHandler.UpdateQty)
			c.Delete("/{cartId}/items/{itemId}", cartHandler.RemoveItem)
			c.Delete("/{cartId}/items", cartHandler.Clear)
			c.Get("/{cartId}/totals", cartHandler.Totals)
			c.With(authmw.Require(auth.CommandApplyCoupon)).Post("/{cartId}/apply-coupon", cartHandler.ApplyCoupon)
		})

		v.Route("/orders", func(o chi.Router) {
			o.With(authmw.Require(auth.CommandCreateOrder)).Post("/", orderHandler.Create)
			o.Get("/", orderHandler.List)
			o.Get("/{orderId}", orderHandler.Get)
			o.With(authmw.Require(auth.CommandCancelOrder)).Post("/{orderId}/cancel", orderHandler.Cancel)
		})

		v.Route("/payments", func(p chi.Router) {
			p.With(authmw.Require(auth.CommandInitiatePayment)).Post("/", paymentHandler.Initiate)
			p.With(authmw.Require(auth.CommandVerifyPayment)).Get("/{reference}/verify", paymentHandler.Verify)
			p.With(authmw.Require(auth.CommandRefundPayment)).Post("/{reference}/refund", paymentHandler.Refund)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.With(authmw.Require(auth.CommandBrowseOrders)).Get("/orders", orderAdmin.List)

			admin.Group(func(g chi.Router) {
				g.Use(authmw.Require(auth.CommandManageCoupons))
				g.Post("/coupons", couponAdmin.Create)
				g.Put("/coupons/{code}", couponAdmin.Update)
				g.Post("/coupons/preview", couponAdmin.Preview)
			})

			admin.Group(func(g chi.Router) {
				g.Use(authmw.Require(auth.CommandAdjustInventory))
				g.Get("/inventory/{variantId}", inventoryHandler.Get)
				g.Post("/inventory/{variantId}/adjust", inventoryHandler.Adjust)
				g.Get("/inventory/{variantId}/history", inventoryHandler.History)
			})

			admin.Group(func(g chi.Router) {
				g.Use(authmw.Require(auth.CommandManageEndpoints))
				g.Post("/webhooks", endpointAdmin.CreateEndpoint)
				g.Get("/webhooks", endpointAdmin.ListEndpoints)
				g.Delete("/webhooks/{id}", endpointAdmin.DeactivateEndpoint)
			})
		})

		v.With(webhookLimit.Middleware).Post("/webhooks/payments/{gateway}", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

// buildGateways assembles the fee schedules the orchestrator scores during
// gateway selection.
func buildGateways(cfg *config.Config) []payment.Gateway {
	return []payment.Gateway{
		{
			Type:       "mpesa",
			Name:       "M-Pesa",
			Active:     cfg.MpesaConsumerKey != "" || cfg.MpesaSandbox,
			TestMode:   cfg.MpesaSandbox,
			Countries:  []string{"KE"},
			Currencies: []string{"KES"},
			Methods:    []payment.Method{payment.MethodMobileMoney, payment.MethodUSSD},
			Fees: []payment.Fee{
				{Method: payment.MethodMobileMoney, Kind: payment.FeePercentage, PercentBps: 150, Currency: "KES"},
				{Method: payment.MethodUSSD, Kind: payment.FeePercentage, PercentBps: 150, Currency: "KES"},
			},
		},
		{
			Type:       "paystack",
			Name:       "Paystack",
			Active:     cfg.PaystackSecretKey != "" || cfg.PaystackSandbox,
			TestMode:   cfg.PaystackSandbox,
			Countries:  []string{"KE", "NG", "GH", "ZA"},
			Currencies: []string{"KES", "NGN", "GHS", "ZAR"},
			Methods:    []payment.Method{payment.MethodCard, payment.MethodBankTransfer},
			Fees: []payment.Fee{
				{Method: payment.MethodCard, Kind: payment.FeeCombined, PercentBps: 290, Fixed: 2000, Currency: "KES"},
				{Method: payment.MethodBankTransfer, Kind: payment.FeeFixed, Fixed: 5000, Currency: "KES"},
			},
		},
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "soko-api"
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

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
