// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AccessTokenExpireMinutes is the access token lifetime in minutes.
	AccessTokenExpireMinutes int `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	// RefreshTokenExpireDays is the refresh token lifetime in days.
	RefreshTokenExpireDays int `mapstructure:"REFRESH_TOKEN_EXPIRE_DAYS"`
	// JWTSecretKey signs access tokens. Must differ from JWTRefreshSecretKey so
	// compromise of one signing domain does not forge the other.
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`
	// JWTRefreshSecretKey signs refresh tokens.
	JWTRefreshSecretKey string `mapstructure:"JWT_REFRESH_SECRET_KEY"`
	// JWTAlgorithm is the HMAC signing algorithm: HS256, HS384 or HS512.
	JWTAlgorithm string `mapstructure:"JWT_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// CORSAllowedOrigins is a comma-separated list of allowed front-end origins.
	// Credentials are always allowed because the auth cookies are SameSite=None.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// TrustProxy enables client IP extraction from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`
	// LoginRatePerMinute limits login/register attempts per client IP per minute.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	// LoginRateBurst is the burst capacity of the per-IP login limiter.
	LoginRateBurst int `mapstructure:"LOGIN_RATE_BURST"`
	// LogLevel is the slog level: debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 15)
	v.SetDefault("REFRESH_TOKEN_EXPIRE_DAYS", 30)
	v.SetDefault("JWT_SECRET_KEY", "")
	v.SetDefault("JWT_REFRESH_SECRET_KEY", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("LOGIN_RATE_BURST", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTSecretKey == "" || cfg.JWTRefreshSecretKey == "" {
		return nil, errors.New("config: JWT_SECRET_KEY and JWT_REFRESH_SECRET_KEY must be set")
	}
	if cfg.JWTSecretKey == cfg.JWTRefreshSecretKey {
		return nil, errors.New("config: JWT_SECRET_KEY and JWT_REFRESH_SECRET_KEY must differ")
	}
	switch cfg.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.New("config: JWT_ALGORITHM must be HS256, HS384 or HS512")
	}
	if cfg.AccessTokenExpireMinutes <= 0 {
		return nil, errors.New("config: ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if cfg.RefreshTokenExpireDays <= 0 {
		return nil, errors.New("config: REFRESH_TOKEN_EXPIRE_DAYS must be positive")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// AccessTTL returns the access token lifetime as a time.Duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a time.Duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// CORSAllowedOriginsList returns the allowed origins from the comma-separated config.
func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil || c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
