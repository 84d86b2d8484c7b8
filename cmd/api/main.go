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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tzsmmpay/internal/auth"
	"github.com/noah-isme/toko-tzsmmpay/internal/common"
	"github.com/noah-isme/toko-tzsmmpay/internal/config"
	"github.com/noah-isme/toko-tzsmmpay/internal/events"
	"github.com/noah-isme/toko-tzsmmpay/internal/health"
	"github.com/noah-isme/toko-tzsmmpay/internal/lock"
	"github.com/noah-isme/toko-tzsmmpay/internal/migrations"
	"github.com/noah-isme/toko-tzsmmpay/internal/obs"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
	"github.com/noah-isme/toko-tzsmmpay/internal/payment"
	"github.com/noah-isme/toko-tzsmmpay/internal/ratelimit"
	"github.com/noah-isme/toko-tzsmmpay/internal/resilience"
	"github.com/noah-isme/toko-tzsmmpay/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLoggerWithConfig(obs.LogConfig{
		Format:     envOrDefault("OBS_LOG_FORMAT", "json"),
		Level:      envOrDefault("OBS_LOG_LEVEL", "info"),
		File:       envOrDefault("OBS_LOG_FILE", ""),
		MaxSizeMB:  envInt("OBS_LOG_MAX_SIZE_MB", 100),
		MaxBackups: envInt("OBS_LOG_MAX_BACKUPS", 5),
		MaxAgeDays: envInt("OBS_LOG_MAX_AGE_DAYS", 30),
	}).With().Str("env", cfg.AppEnv).Str("service", "toko-tzsmmpay").Logger()
	zerolog.DefaultContextLogger = &logger

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "toko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-tzsmmpay",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checks := map[string]health.Check{}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrations.Up(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
			logger.Info().Msg("migrations applied")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse database config")
		}
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-tzsmmpay"

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("ping database")
		}
		checks["db"] = health.PgxCheck(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, orders are kept in memory")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if metricsEnabled {
			if err := redisotel.InstrumentMetrics(redisClient); err != nil {
				logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
		checks["redis"] = health.RedisCheck(redisClient)
	}

	var orders order.Store
	if pool != nil {
		orders = order.PostgresStore{DB: pool}
	} else {
		orders = order.NewMemoryStore()
	}
	if redisClient != nil {
		orders = order.LockedStore{
			Store:  orders,
			Locker: lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
			TTL:    cfg.LockTTL,
		}
	}

	bus := &events.Bus{Store: events.NewMemoryStore(0)}
	if pool != nil {
		bus.Store = events.PostgresStore{DB: pool}
	}
	if cfg.AsynqEnabled {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse asynq redis url")
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer func() {
			if err := asynqClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close asynq client")
			}
		}()
		bus.Notifiers = append(bus.Notifiers, events.AsynqNotifier{Client: asynqClient, MaxRetry: 10, Topics: events.DefaultTopics()})
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget(payment.ProviderName).
		WithLogger(logger)
	transport := &payment.Transport{
		HTTP: resilience.HTTPClient{
			Client:      payment.NewHTTPClient(cfg.TZSMMPay.Timeout),
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     cfg.TZSMMPay.Timeout,
			Target:      payment.ProviderName,
			Logger:      &logger,
		},
		Timeout:   cfg.TZSMMPay.Timeout,
		UserAgent: "toko-tzsmmpay/1.0",
	}
	validate := payment.NewValidator()
	sessions := &payment.SessionInitiator{
		Transport: transport,
		Config: payment.GatewayConfig{
			APIKey:      cfg.TZSMMPay.APIKey,
			BaseURL:     cfg.TZSMMPay.BaseURL,
			CallbackURL: cfg.CallbackURL(),
			SuccessURL:  cfg.SuccessURL,
			CancelURL:   cfg.CancelURL(),
		},
		Validate: validate,
		Logger:   logger,
	}
	webhook := &payment.WebhookHandler{
		Orders:   orders,
		Verifier: &payment.Verifier{Transport: transport, BaseURL: cfg.TZSMMPay.BaseURL, Logger: logger},
		APIKey:   cfg.TZSMMPay.APIKey,
		Events:   bus,
		Validate: validate,
		Logger:   logger,
	}
	paymentHandler := &payment.Handler{
		Orders:   orders,
		Sessions: sessions,
		Settings: payment.Settings{
			Enabled:     cfg.TZSMMPay.Enabled,
			Title:       cfg.TZSMMPay.Title,
			Description: cfg.TZSMMPay.Description,
		},
		Events: bus,
	}

	var adminAuth auth.Middleware
	if cfg.AdminJWTSecret != "" {
		tokens, err := auth.NewAdminTokens(cfg.AdminJWTSecret, cfg.AdminJWTIssuer, cfg.AdminJWTAudience, time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise admin tokens")
		}
		adminAuth.Tokens = tokens
	}
	orderAdmin := &order.AdminHandler{Store: orders}

	var webhookLimiter ratelimit.Allower = ratelimit.NewMemory("rl:webhook")
	idem := common.Idem{TTL: envDurationMillis("IDEMPOTENCY_TTL_MS", 600000)}
	if redisClient != nil {
		webhookLimiter = ratelimit.SlidingWindow{Client: redisClient}
		idem.R = redisClient
	}
	webhookRate := ratelimit.Handler{
		Limiter: webhookLimiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ClientIPKey("rl:webhook:"),
			Window: cfg.WebhookRateWindow,
			Max:    cfg.WebhookRateLimit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("webhook rate limiter unavailable") },
	}
	webhookBody := security.BodyLimit{Max: cfg.WebhookBodyLimit}
	paymentHeaders := security.Headers{Enable: true, NoStore: true}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if envBool("TRUST_PROXY_HEADERS", false) {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLE", true),
		EnableHSTS: envBool("SECURE_HSTS_ENABLE", false),
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checks:  checks,
		Timeout: envDurationMillis("HEALTH_READY_TIMEOUT_MS", 500),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/payments/tzsmmpay/method", paymentHandler.Method)

		v.With(paymentHeaders.Middleware, idem.Middleware).
			Post("/checkout/{orderRef}/tzsmmpay", paymentHandler.Checkout)

		v.Group(func(wh chi.Router) {
			wh.Use(webhookRate.Middleware)
			wh.Use(webhookBody.Middleware)
			wh.Use(paymentHeaders.Middleware)
			wh.Get("/webhooks/payment/tzsmmpay", webhook.Handle)
			wh.Post("/webhooks/payment/tzsmmpay", webhook.Handle)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(adminAuth.RequireAdmin)
			admin.Get("/orders/{orderRef}", orderAdmin.Get)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("gateway_enabled", cfg.TZSMMPay.Enabled).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
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
