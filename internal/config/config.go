package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// Offer lifecycle. TTL and radius are injected here because the product
	// never fixed an authoritative value; the defaults match the upstream
	// 60s timeout with a 10s sweep.
	OfferTTL           time.Duration
	OfferSweepInterval time.Duration
	EligibilityRadiusM float64
	OfferFanOut        int

	// Scoring policy.
	ScoreThresholdM float64
	ScoreMaxPoints  int
	PointsExpiryAge time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "operators_geo",
		KafkaTopic:         "operator-locations",
		OfferTTL:           60 * time.Second,
		OfferSweepInterval: 10 * time.Second,
		EligibilityRadiusM: 5000,
		OfferFanOut:        5,
		ScoreThresholdM:    100,
		ScoreMaxPoints:     10,
		PointsExpiryAge:    90 * 24 * time.Hour,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setDurationFromEnv(&cfg.OfferSweepInterval, "OFFER_SWEEP_INTERVAL", &errs)
	setFloatFromEnv(&cfg.EligibilityRadiusM, "ELIGIBILITY_RADIUS_M", &errs)
	setIntFromEnv(&cfg.OfferFanOut, "OFFER_FAN_OUT", &errs)

	setFloatFromEnv(&cfg.ScoreThresholdM, "SCORE_THRESHOLD_M", &errs)
	setIntFromEnv(&cfg.ScoreMaxPoints, "SCORE_MAX_POINTS", &errs)
	setDurationFromEnv(&cfg.PointsExpiryAge, "POINTS_EXPIRY_AGE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}
	if cfg.OfferFanOut <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_FAN_OUT must be > 0"))
	}
	if cfg.ScoreThresholdM <= 0 {
		errs = append(errs, fmt.Errorf("SCORE_THRESHOLD_M must be > 0"))
	}
	if cfg.ScoreMaxPoints <= 0 {
		errs = append(errs, fmt.Errorf("SCORE_MAX_POINTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
