package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストア・キャッシュのドライバ名
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	DatabaseDriverPostgres = "postgres"
	DatabaseDriverPgx      = "pgx"

	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DatabaseDriver string
	StoreDriver    string
	StoreTimeout   time.Duration

	// SSO
	AppIdentifier       string
	TokenLifetime       time.Duration
	RedirectAfterLogin  string
	LoginPath           string
	PartnersFile        string
	ClaimsMaxAge        time.Duration
	ClaimsEncryptionKey []byte

	// Cache
	CacheDriver     string
	RedisAddr       string
	RedisDB         int
	PartnerCacheTTL time.Duration

	// Session
	SessionMaxAge int

	// Rate Limit
	RateLimitCallback int
	RateLimitRedirect int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// LoadDotEnv はカレントディレクトリの .env を読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.DatabaseDriver = strings.ToLower(getEnvString("DATABASE_DRIVER", DatabaseDriverPostgres))
	if cfg.DatabaseDriver != DatabaseDriverPostgres && cfg.DatabaseDriver != DatabaseDriverPgx {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %q", cfg.DatabaseDriver)
	}

	cfg.CacheDriver = strings.ToLower(getEnvString("CACHE_DRIVER", CacheDriverMemory))
	switch cfg.CacheDriver {
	case CacheDriverMemory:
	case CacheDriverRedis:
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_DRIVER=redis")
		}
	default:
		return nil, fmt.Errorf("unsupported CACHE_DRIVER: %q", cfg.CacheDriver)
	}

	if v := os.Getenv("CLAIMS_ENCRYPTION_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("CLAIMS_ENCRYPTION_KEY must be 64 hex characters")
		}
		cfg.ClaimsEncryptionKey = key
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.AppIdentifier = getEnvString("SSO_APP_IDENTIFIER", "app1")
	cfg.TokenLifetime = time.Duration(getEnvInt("SSO_TOKEN_LIFETIME", 5)) * time.Minute
	cfg.RedirectAfterLogin = getEnvString("SSO_REDIRECT_AFTER_LOGIN", "/dashboard")
	cfg.LoginPath = getEnvString("SSO_LOGIN_PATH", "/login")
	cfg.PartnersFile = getEnvString("SSO_PARTNERS_FILE", "")
	cfg.ClaimsMaxAge = getEnvDuration("SSO_CLAIMS_MAX_AGE", 0)
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.PartnerCacheTTL = getEnvDuration("PARTNER_CACHE_TTL", time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitCallback = getEnvInt("RATE_LIMIT_CALLBACK", 30)
	cfg.RateLimitRedirect = getEnvInt("RATE_LIMIT_REDIRECT", 60)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	if cfg.TokenLifetime <= 0 {
		return nil, fmt.Errorf("SSO_TOKEN_LIFETIME must be positive")
	}
	// 鮮度チェックの上限はトークンの寿命を下回らない
	if cfg.ClaimsMaxAge > 0 && cfg.ClaimsMaxAge < cfg.TokenLifetime {
		cfg.ClaimsMaxAge = cfg.TokenLifetime
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

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
