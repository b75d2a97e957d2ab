package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 注文ストアの種別。
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DefaultOrdersContextClaim はIdPのActionが付与する名前空間付きクレームの既定キー。
const DefaultOrdersContextClaim = "https://pizza42.example/orders_context"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Token verification
	IssuerBaseURL          string
	Audience               string
	JWKSURL                string
	JWKSFetchTimeout       time.Duration
	JWKSMinRefreshInterval time.Duration
	JWTLeeway              time.Duration
	OrdersContextClaim     string
	IDPAllowPrivate        bool

	// Orders
	OrderStore     string
	OrderRetention int
	DatabaseURL    string
	RedisURL       string
	RedisKeyPrefix string

	// Profile (Management API)
	MgmtDomain       string
	MgmtClientID     string
	MgmtClientSecret string
	ProfileTimeout   time.Duration

	// Rate Limit
	RateLimitGeneral     int
	RateLimitOrderCreate int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// ProfileEnabled はManagement APIの設定があるかを返す。
func (c *Config) ProfileEnabled() bool {
	return c.MgmtDomain != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.IssuerBaseURL = os.Getenv("ISSUER_BASE_URL")
	if cfg.IssuerBaseURL == "" {
		missing = append(missing, "ISSUER_BASE_URL")
	}

	cfg.Audience = os.Getenv("AUTH_AUDIENCE")
	if cfg.Audience == "" {
		missing = append(missing, "AUTH_AUDIENCE")
	}

	cfg.OrderStore = strings.ToLower(getEnvString("ORDER_STORE", StoreMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	switch cfg.OrderStore {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported ORDER_STORE %q (want memory, postgres or redis)", cfg.OrderStore)
	}

	cfg.MgmtDomain = os.Getenv("MGMT_DOMAIN")
	cfg.MgmtClientID = os.Getenv("MGMT_CLIENT_ID")
	cfg.MgmtClientSecret = os.Getenv("MGMT_CLIENT_SECRET")
	if cfg.MgmtDomain != "" {
		if cfg.MgmtClientID == "" {
			missing = append(missing, "MGMT_CLIENT_ID")
		}
		if cfg.MgmtClientSecret == "" {
			missing = append(missing, "MGMT_CLIENT_SECRET")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWKSURL = getEnvString("JWKS_URL", "")
	cfg.JWKSFetchTimeout = getEnvDuration("JWKS_FETCH_TIMEOUT", 5*time.Second)
	cfg.JWKSMinRefreshInterval = getEnvDuration("JWKS_MIN_REFRESH_INTERVAL", time.Minute)
	cfg.JWTLeeway = getEnvDuration("JWT_LEEWAY", 0)
	cfg.OrdersContextClaim = getEnvString("ORDERS_CONTEXT_CLAIM", DefaultOrdersContextClaim)
	cfg.IDPAllowPrivate = getEnvBool("IDP_ALLOW_PRIVATE", false)
	cfg.OrderRetention = getEnvInt("ORDER_RETENTION", 5)
	cfg.RedisKeyPrefix = getEnvString("REDIS_KEY_PREFIX", "")
	cfg.ProfileTimeout = getEnvDuration("PROFILE_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitOrderCreate = getEnvInt("RATE_LIMIT_ORDER_CREATE", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.OrderRetention < 1 {
		return nil, fmt.Errorf("ORDER_RETENTION must be positive, got %d", cfg.OrderRetention)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
