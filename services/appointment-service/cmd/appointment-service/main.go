package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/dentalclinic/libs/auth"
	"github.com/md-rashed-zaman/dentalclinic/libs/config"
	"github.com/md-rashed-zaman/dentalclinic/libs/db"
	"github.com/md-rashed-zaman/dentalclinic/libs/httpx"
	"github.com/md-rashed-zaman/dentalclinic/libs/kafkax"
	otelx "github.com/md-rashed-zaman/dentalclinic/libs/otel"
	"github.com/md-rashed-zaman/dentalclinic/libs/runtime"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/handlers"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/scheduling"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
	logger := runtime.NewLogger(service)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.databaseURL, db.WithMaxConns(cfg.dbMaxConns))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	appointments := storage.NewAppointmentRepository(pool, outboxRepo)
	patients := storage.NewPatientRepository(pool)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.kafkaBrokers,
		PollEvery: cfg.outboxPollEvery,
		BatchSize: 50,
		Retention: cfg.outboxRetention,
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if publisher.Enabled() {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)})
	}

	var limiter httpx.Limiter = httpx.NewMemoryLimiter(cfg.bookingLimit, cfg.bookingWindow)
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisLimiter(rdb, cfg.bookingLimit, cfg.bookingWindow, service+":book")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_ADDR not set; booking rate limit is per instance")
	}

	verifier := auth.Verifier(auth.HS256(cfg.jwtSecret))
	if cfg.jwksURL != "" {
		verifier = auth.KeySet{JWKS: auth.NewJWKSClient(cfg.jwksURL, cfg.jwksTTL), Secret: cfg.jwtSecret}
	}

	scheduler := scheduling.New(cfg.location)
	svc := booking.NewService(appointments, patients, scheduler, logger.With("component", "booking"))

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewAppointmentHandler(svc, logger).Register(mux,
		auth.RequireAuth(verifier),
		httpx.RateLimit(limiter, principalKey, logger, true),
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointments")
	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", cfg.location.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// principalKey buckets booking attempts per authenticated user, falling back to the
// client address.
func principalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return "user:" + p.UserID
	}
	return "ip:" + httpx.ClientIP(r)
}
