// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ストレージバックエンド
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Google
	GoogleClientID    string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleRedirectURL string `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`

	// Apple（APPLE_CLIENT_IDが未設定ならAppleサインインは無効）
	AppleClientID    string `env:"APPLE_CLIENT_ID"`
	AppleRedirectURL string `env:"APPLE_REDIRECT_URL"`
	AppleListenAddr  string `env:"APPLE_LISTEN_ADDR"`

	// identityキャッシュの暗号鍵（AES-256、16進数64文字）
	IdentityCacheKey string `env:"IDENTITY_CACHE_KEY,required,notEmpty"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"gofinances.db"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"gofinances:"`

	AvatarBaseURL string `env:"AVATAR_BASE_URL" envDefault:"https://ui-avatars.com"`

	// Timeouts
	LoginTimeout time.Duration `env:"LOGIN_TIMEOUT" envDefault:"5m"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Metrics（空の場合は出力しない）
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
}

// AppleEnabled はAppleサインインが設定されているかを返す。
func (c *Config) AppleEnabled() bool {
	return c.AppleClientID != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateRedirectURL("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL); err != nil {
		return err
	}

	key, err := hex.DecodeString(c.IdentityCacheKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("IDENTITY_CACHE_KEY must be 64 hex characters (AES-256 key)")
	}

	if c.AppleEnabled() {
		if c.AppleRedirectURL == "" {
			return fmt.Errorf("APPLE_REDIRECT_URL is required when APPLE_CLIENT_ID is set")
		}
		if err := validateRedirectURL("APPLE_REDIRECT_URL", c.AppleRedirectURL); err != nil {
			return err
		}
	}

	c.StorageBackend = strings.ToLower(c.StorageBackend)
	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND: %q (allowed: sqlite, postgres, redis, memory)", c.StorageBackend)
	}

	if c.LoginTimeout < 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("LOGIN_TIMEOUT must be >= 0 and HTTP_TIMEOUT must be > 0")
	}
	return nil
}

func validateRedirectURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: must be an absolute http(s) URL", name)
	}
	return nil
}
