package main

import (
	"time"

	"github.com/md-rashed-zaman/dentalclinic/libs/config"
	"github.com/md-rashed-zaman/dentalclinic/libs/httpx"
)

type serviceConfig struct {
	port            string
	databaseURL     string
	dbMaxConns      int
	jwtSecret       string
	jwksURL         string
	jwksTTL         time.Duration
	location        *time.Location
	kafkaBrokers    string
	outboxPollEvery time.Duration
	outboxRetention time.Duration
	redisAddr       string
	bookingLimit    int
	bookingWindow   time.Duration
	corsOrigins     []string
}

func loadConfig() (serviceConfig, error) {
	var cfg serviceConfig
	var err error

	if cfg.port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.jwtSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.dbMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.jwksTTL, err = config.Duration("JWKS_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.location, err = config.Location("CLINIC_TIMEZONE", "America/Bogota"); err != nil {
		return cfg, err
	}
	if cfg.outboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.outboxRetention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.bookingLimit, err = config.Int("BOOKING_RATE_LIMIT", 20); err != nil {
		return cfg, err
	}
	if cfg.bookingWindow, err = config.Duration("BOOKING_RATE_WINDOW", time.Minute); err != nil {
		return cfg, err
	}

	cfg.jwksURL = config.String("JWKS_URL", "")
	cfg.kafkaBrokers = config.String("KAFKA_BROKERS", "")
	cfg.redisAddr = config.String("REDIS_ADDR", "")
	cfg.corsOrigins = httpx.ParseCSV(config.String("CORS_ALLOWED_ORIGINS", ""))
	return cfg, nil
}
