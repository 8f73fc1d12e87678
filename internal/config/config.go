// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 画像ストレージの種類
const (
	ImageStorageEmbedded   = "embedded"
	ImageStorageFilesystem = "filesystem"
	ImageStorageS3         = "s3"
)

// レート制限ストアの種類
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

const (
	// MaxSessionTTL はセッション有効期間の上限。これより長い設定は切り詰める。
	MaxSessionTTL = 24 * time.Hour
	// MinBcryptCost はパスワードハッシュの最小コスト。
	MinBcryptCost = 12
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string
	DBConnectTimeout time.Duration

	// Session
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	BcryptCost           int

	// CSRF
	CSRFTokenMaxAge       time.Duration
	CSRFMaxFailedAttempts int
	CSRFRateWindow        time.Duration
	CSRFExemptPaths       []string

	// Rate Limit
	RateLimitStore   string
	RedisURL         string
	RateLimitGeneral int // req/min
	RateLimitUpload  int // req/min

	// Image storage
	ImageStorage    string
	UploadDir       string
	UploadURLPrefix string
	UploadMaxBytes  int64
	RequestMaxBytes int64

	// S3
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3UseSSL        bool
	S3PublicBaseURL string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string
	TrustProxy bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合や値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", 5*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", MaxSessionTTL)
	if cfg.SessionTTL <= 0 || cfg.SessionTTL > MaxSessionTTL {
		cfg.SessionTTL = MaxSessionTTL
	}
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", MinBcryptCost)
	if cfg.BcryptCost < MinBcryptCost {
		cfg.BcryptCost = MinBcryptCost
	}

	cfg.CSRFTokenMaxAge = getEnvDuration("CSRF_TOKEN_MAX_AGE", time.Hour)
	cfg.CSRFMaxFailedAttempts = getEnvInt("CSRF_MAX_FAILED_ATTEMPTS", 10)
	cfg.CSRFRateWindow = getEnvDuration("CSRF_RATE_WINDOW", 5*time.Minute)
	cfg.CSRFExemptPaths = getEnvList("CSRF_EXEMPT_PATHS", []string{"/api/contact"})

	cfg.RateLimitStore = getEnvString("RATE_LIMIT_STORE", RateLimitStoreMemory)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 20)

	cfg.ImageStorage = getEnvString("IMAGE_STORAGE", ImageStorageEmbedded)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./uploads")
	cfg.UploadURLPrefix = strings.TrimRight(getEnvString("UPLOAD_URL_PREFIX", "/media"), "/")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 10<<20)
	cfg.RequestMaxBytes = getEnvInt64("REQUEST_MAX_BYTES", 64<<20)

	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "atelier-images")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	cfg.S3PublicBaseURL = strings.TrimRight(getEnvString("S3_PUBLIC_BASE_URL", ""), "/")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.ImageStorage {
	case ImageStorageEmbedded, ImageStorageFilesystem:
	case ImageStorageS3:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("IMAGE_STORAGE=s3 requires S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unsupported IMAGE_STORAGE: %q", c.ImageStorage)
	}

	switch c.RateLimitStore {
	case RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("RATE_LIMIT_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_STORE: %q", c.RateLimitStore)
	}

	if c.CSRFMaxFailedAttempts <= 0 {
		return fmt.Errorf("CSRF_MAX_FAILED_ATTEMPTS must be positive, got %d", c.CSRFMaxFailedAttempts)
	}
	if c.UploadMaxBytes <= 0 || c.RequestMaxBytes < c.UploadMaxBytes {
		return fmt.Errorf("REQUEST_MAX_BYTES (%d) must be >= UPLOAD_MAX_BYTES (%d) > 0", c.RequestMaxBytes, c.UploadMaxBytes)
	}

	return nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
