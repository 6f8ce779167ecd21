// Package config loads server configuration from the environment.
//
// A .env file in the working directory is read first if present; variables
// already set in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Token cache backends.
const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is every setting the server reads.
type Config struct {
	Port      int    `env:"PORT" envDefault:"3000"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// BackendURL is the job tracker API the Profile Gate asks.
	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8000"`
	ProfileTimeout time.Duration `env:"PROFILE_TIMEOUT" envDefault:"10s"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// SessionSecret signs the auth cookie and OAuth state tokens.
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"false"`
	SettleDelay   time.Duration `env:"SETTLE_DELAY" envDefault:"1s"`

	TokenCache string `env:"TOKEN_CACHE" envDefault:"sqlite"`
	DBPath     string `env:"DB_PATH" envDefault:"data/job-tracker.db"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	EnableTestLogin bool `env:"ENABLE_TEST_LOGIN" envDefault:"false"`
}

// Load reads .env (if any) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.TokenCache = strings.ToLower(strings.TrimSpace(c.TokenCache))
	switch c.TokenCache {
	case CacheSQLite, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("config: TOKEN_CACHE must be sqlite, redis or none, got %q", c.TokenCache)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	if c.ProfileTimeout <= 0 {
		return fmt.Errorf("config: PROFILE_TIMEOUT must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("config: SETTLE_DELAY must not be negative")
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// RedirectURL is the OAuth callback registered with the provider.
func (c Config) RedirectURL() string {
	return c.PublicURL + "/auth/callback"
}

// Level maps LogLevel onto a slog level. Unknown values mean info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
