package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SessionStore の取りうる値。
const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreBolt     = "bolt"
)

// MemoryDatabaseURL をDATABASE_URLに指定するとPostgreSQLを使わずインメモリで動作する。
const MemoryDatabaseURL = "memory"

// envFiles は起動時に読み込む.envファイル。先に読んだ値が優先される。
var envFiles = []string{".env.local", ".env"}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret        string
	SessionStore         string
	SessionMaxAge        int
	SessionSweepInterval time.Duration
	RedisURL             string
	BoltPath             string

	// Password
	BcryptCost int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.env.localまたは.envがあれば、既存の環境変数を上書きせずに取り込む。
// 必須環境変数が未設定の場合は、不足しているものをすべて列挙したエラーを返す。
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("BASE_URL is not a valid URL: %w", err)
	}

	// Optional fields with defaults
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")

	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStorePostgres))
	switch cfg.SessionStore {
	case SessionStoreMemory, SessionStorePostgres, SessionStoreRedis, SessionStoreBolt:
	default:
		return nil, fmt.Errorf("SESSION_STORE must be one of memory, postgres, redis, bolt: got %q", cfg.SessionStore)
	}
	if cfg.SessionStore == SessionStorePostgres && cfg.InMemoryDatabase() {
		cfg.SessionStore = SessionStoreMemory
	}

	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.BoltPath = getEnvString("BOLT_PATH", "passgate-sessions.db")
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// GoogleEnabled は外部ログインに必要な設定がすべて揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// InMemoryDatabase はユーザーストアをインメモリで動かすかを返す。
func (c *Config) InMemoryDatabase() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

// SessionTTL はセッションの有効期間を返す。
// メモリストアは短命のCookieセッション、永続ストアはSESSION_MAX_AGEに従う。
func (c *Config) SessionTTL(memoryTTL time.Duration) time.Duration {
	if c.SessionStore == SessionStoreMemory {
		return memoryTTL
	}
	if c.SessionMaxAge <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SessionMaxAge) * time.Second
}

func loadEnvFiles() {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
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
