package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "EscrowPay"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultCurrency          = "XAF"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultRefreshTokenTTL   = 30 * 24 * time.Hour
	defaultEscrowTTL         = 90 * 24 * time.Hour
	defaultLedgerTimeout     = 5 * time.Second
	defaultReconcileSchedule = "@every 2m"
	defaultReconcileBatch    = 100
	defaultRedeemRateLimit   = 10
	defaultCommissionAcct    = "revenue:commission"
	idemTTLSecondsEnvVar     = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar         = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
	escrowTTLEnvVar          = "ESCROW_TTL"
	ledgerTimeoutEnvVar      = "LEDGER_TIMEOUT"
	accessTokenTTLEnvVar     = "ACCESS_TOKEN_TTL"
	refreshTokenTTLEnvVar    = "REFRESH_TOKEN_TTL"
	reconcileBatchEnvVar     = "RECONCILE_BATCH_SIZE"
	redeemRateLimitEnvVar    = "REDEEM_RATE_LIMIT"
	developmentJWTSecret     = "dev-access-secret"
	developmentRefreshToken  = "dev-refresh-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	Env               string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	AMQPURL           string
	Currency          string
	JWTSecret         string
	RefreshSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	EscrowTTL         time.Duration
	LedgerTimeout     time.Duration
	ReconcileSchedule string
	ReconcileBatch    int
	RedeemRateLimit   int
	CommissionAccount string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		Env:               strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		Currency:          strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RefreshSecret:     os.Getenv("REFRESH_SECRET"),
		AccessTokenTTL:    defaultAccessTokenTTL,
		RefreshTokenTTL:   defaultRefreshTokenTTL,
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		EscrowTTL:         defaultEscrowTTL,
		LedgerTimeout:     defaultLedgerTimeout,
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", defaultReconcileSchedule),
		ReconcileBatch:    defaultReconcileBatch,
		RedeemRateLimit:   defaultRedeemRateLimit,
		CommissionAccount: getEnv("PLATFORM_COMMISSION_ACCOUNT", defaultCommissionAcct),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.EscrowTTL, err = durationFromEnv("", escrowTTLEnvVar, cfg.EscrowTTL); err != nil {
		return Config{}, err
	}
	if cfg.LedgerTimeout, err = durationFromEnv("", ledgerTimeoutEnvVar, cfg.LedgerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationFromEnv("", accessTokenTTLEnvVar, cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = durationFromEnv("", refreshTokenTTLEnvVar, cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileBatch, err = intFromEnv(reconcileBatchEnvVar, cfg.ReconcileBatch); err != nil {
		return Config{}, err
	}
	if cfg.RedeemRateLimit, err = intFromEnv(redeemRateLimitEnvVar, cfg.RedeemRateLimit); err != nil {
		return Config{}, err
	}

	if cfg.EscrowTTL <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", escrowTTLEnvVar)
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = developmentJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = developmentRefreshToken
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development environment where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
