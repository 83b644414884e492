package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/collivery/pkg/cache"
	"github.com/tournevent/collivery/pkg/collivery"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Collivery
	AppName      string        `envconfig:"COLLIVERY_APP_NAME" default:"My Custom App"`
	AppVersion   string        `envconfig:"COLLIVERY_APP_VERSION" default:"0.2.1"`
	AppHost      string        `envconfig:"COLLIVERY_APP_HOST" default:".NET Framework 4.8"`
	AppLang      string        `envconfig:"COLLIVERY_APP_LANG" default:"Go"`
	AppURL       string        `envconfig:"COLLIVERY_APP_URL" default:"https://example.com"`
	UserEmail    string        `envconfig:"COLLIVERY_USER_EMAIL" default:"demo@collivery.co.za"`
	UserPassword string        `envconfig:"COLLIVERY_USER_PASSWORD" default:"demo"`
	Demo         bool          `envconfig:"COLLIVERY_DEMO" default:"false"`
	BaseURL      string        `envconfig:"COLLIVERY_BASE_URL" default:"https://api.collivery.co.za"`
	Timeout      time.Duration `envconfig:"COLLIVERY_TIMEOUT" default:"30s"`
	UseMock      bool          `envconfig:"COLLIVERY_USE_MOCK" default:"false"`

	// Cache
	CacheBackend  string `envconfig:"COLLIVERY_CACHE_BACKEND" default:"memory"`
	CacheDir      string `envconfig:"COLLIVERY_CACHE_DIR"`
	CacheMode     string `envconfig:"COLLIVERY_CACHE_MODE" default:"read_through"`
	RedisAddr     string `envconfig:"COLLIVERY_REDIS_ADDR" default:"localhost:6379"`
	RedisUsername string `envconfig:"COLLIVERY_REDIS_USERNAME"`
	RedisPassword string `envconfig:"COLLIVERY_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"COLLIVERY_REDIS_DB" default:"0"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"collivery"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables, after loading any
// .env files given (or ./.env when none are). Variables already set in the
// environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	switch cfg.CacheBackend {
	case "memory", "badger", "redis":
	default:
		return nil, fmt.Errorf("loading config: unknown cache backend %q", cfg.CacheBackend)
	}
	if _, err := collivery.ParseCacheMode(cfg.CacheMode); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Collivery returns the client configuration.
func (c *Config) Collivery() collivery.Config {
	return collivery.Config{
		AppName:      c.AppName,
		AppVersion:   c.AppVersion,
		AppHost:      c.AppHost,
		AppLang:      c.AppLang,
		AppURL:       c.AppURL,
		UserEmail:    c.UserEmail,
		UserPassword: c.UserPassword,
		Demo:         c.Demo,
		BaseURL:      c.BaseURL,
		CacheDir:     c.CacheDir,
		Timeout:      c.Timeout,
		UseMock:      c.UseMock,
	}
}

// ClientCacheMode returns the configured cache mode.
func (c *Config) ClientCacheMode() collivery.CacheMode {
	mode, _ := collivery.ParseCacheMode(c.CacheMode)
	return mode
}

// OpenStore opens the configured cache backend.
func (c *Config) OpenStore() (cache.Store, error) {
	switch c.CacheBackend {
	case "redis":
		return cache.NewRedis(cache.RedisConfig{
			Addr:     c.RedisAddr,
			Username: c.RedisUsername,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		}), nil
	case "badger":
		return cache.OpenBadger(c.CacheDir)
	default:
		return cache.OpenBadger("")
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("collivery.app_name", c.AppName),
		attribute.String("collivery.cache_backend", c.CacheBackend),
		attribute.String("collivery.cache_mode", c.CacheMode),
		attribute.Bool("collivery.demo", c.Demo),
		attribute.Bool("collivery.mock", c.UseMock),
	}
}
