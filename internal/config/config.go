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

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// 認証プロバイダー
const (
	// AuthProviderBaaS は外部のBaaS認証サービスを利用する。
	AuthProviderBaaS = "baas"
	// AuthProviderStatic は設定ファイルの固定ユーザーでログインする開発・テスト専用の戦略。
	AuthProviderStatic = "static"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Auth
	AuthProvider    string
	AuthJWTSecret   string
	BaaSURL         string
	BaaSAnonKey     string
	StaticUsersFile string

	// Cookie
	AuthCookieName    string
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CredentialMaxAge  int

	// Routes
	RoutesFile string

	// Upstream
	UpstreamTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitMessage int

	// Worker
	NotificationRetentionDays int
	SessionStatusInterval     time.Duration

	// Profile
	ProfileImageProbe bool

	// Logging
	LogLevel         string
	LogFile          string
	LogRetentionDays int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
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

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}

	cfg.AuthProvider = getEnvString("AUTH_PROVIDER", AuthProviderBaaS)
	cfg.BaaSURL = strings.TrimRight(os.Getenv("BAAS_URL"), "/")
	if cfg.AuthProvider == AuthProviderBaaS && cfg.BaaSURL == "" {
		missing = append(missing, "BAAS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", EnvDevelopment)
	cfg.BaaSAnonKey = getEnvString("BAAS_ANON_KEY", "")
	cfg.StaticUsersFile = getEnvString("STATIC_USERS_FILE", "")
	cfg.AuthCookieName = getEnvString("AUTH_COOKIE_NAME", "skillswap-auth-token")
	cfg.RefreshCookieName = getEnvString("REFRESH_COOKIE_NAME", "skillswap-refresh-token")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CookieSecure = cfg.AppEnv == EnvProduction
	cfg.CredentialMaxAge = getEnvInt("CREDENTIAL_MAX_AGE", 604800)
	cfg.RoutesFile = getEnvString("ROUTES_FILE", "")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMessage = getEnvInt("RATE_LIMIT_MESSAGE", 30)
	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)
	cfg.SessionStatusInterval = getEnvDuration("SESSION_STATUS_INTERVAL", time.Minute)
	cfg.ProfileImageProbe = getEnvBool("PROFILE_IMAGE_PROBE", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid APP_ENV: %q (allowed: %s, %s)", c.AppEnv, EnvDevelopment, EnvProduction)
	}

	switch c.AuthProvider {
	case AuthProviderBaaS:
	case AuthProviderStatic:
		// 固定ユーザーによるログインは本番環境では起動させない
		if c.IsProduction() {
			return fmt.Errorf("AUTH_PROVIDER=%s is not allowed in production", AuthProviderStatic)
		}
		if c.StaticUsersFile == "" {
			return fmt.Errorf("STATIC_USERS_FILE is required when AUTH_PROVIDER=%s", AuthProviderStatic)
		}
	default:
		return fmt.Errorf("invalid AUTH_PROVIDER: %q", c.AuthProvider)
	}

	if c.AuthCookieName == c.RefreshCookieName {
		return fmt.Errorf("AUTH_COOKIE_NAME and REFRESH_COOKIE_NAME must differ")
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
