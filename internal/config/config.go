// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr string
	Env  string
}

// DBConfig holds the PostgreSQL connection configuration.
type DBConfig struct {
	DSN string
}

// JWTConfig holds token verification configuration.
type JWTConfig struct {
	SigningKey string
	AccessTTL  time.Duration
}

// CacheConfig holds the per-tenant context cache configuration.
type CacheConfig struct {
	TTL       time.Duration
	RedisAddr string // empty selects the in-memory backend
}

// RetentionConfig holds sweep windows and cadence.
type RetentionConfig struct {
	AuditWindow        time.Duration
	ConversationWindow time.Duration
	SweepInterval      time.Duration
}

// LimiterConfig holds login rate limiting parameters.
type LimiterConfig struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Cache     CacheConfig
	Retention RetentionConfig
	Limiter   LimiterConfig
	LogLevel  string
}

// Load reads configuration from the environment; a .env file is optional.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("ADDR", ":8080"),
			Env:  getEnv("ENV", "development"),
		},
		DB: DBConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			AccessTTL:  getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
		},
		Cache: CacheConfig{
			TTL:       getEnvAsDuration("CACHE_TTL", 15*time.Minute),
			RedisAddr: getEnv("CACHE_REDIS_ADDR", ""),
		},
		Retention: RetentionConfig{
			AuditWindow:        getEnvAsDuration("AUDIT_RETENTION", 90*24*time.Hour),
			ConversationWindow: getEnvAsDuration("CONVERSATION_RETENTION", 90*24*time.Hour),
			SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
		},
		Limiter: LimiterConfig{
			Window:   getEnvAsDuration("LOGIN_LIMIT_WINDOW", 15*time.Minute),
			MaxFails: getEnvAsInt("LOGIN_LIMIT_MAX_FAILS", 5),
			BlockFor: getEnvAsDuration("LOGIN_LIMIT_BLOCK", 15*time.Minute),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.JWT.SigningKey == "" {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is required")
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
