// Package collivery is a client for the MDS Collivery courier API.
//
// A Client authenticates lazily, caches reference data and its session in a
// cache.Store, validates shipment requests against the account's addresses,
// contacts and the service's reference data, and turns quotes into VAT
// adjusted prices. A Client is not safe for concurrent use; create one per
// goroutine and share the Store instead.
package collivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tournevent/collivery/pkg/cache"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.collivery.co.za"

	demoEmail    = "api@collivery.co.za"
	demoPassword = "api123"
)

// Config holds the client configuration.
type Config struct {
	AppName    string
	AppVersion string
	AppHost    string // framework or CMS descriptor sent with every request
	AppLang    string
	AppURL     string

	UserEmail    string
	UserPassword string
	Demo         bool // use the shared demo account regardless of UserEmail

	BaseURL  string
	CacheDir string // used when no Store is supplied; empty keeps the cache in memory
	Timeout  time.Duration
	UseMock  bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		AppName:      "My Custom App",
		AppVersion:   "0.2.1",
		AppHost:      ".NET Framework 4.8",
		AppLang:      "Go",
		AppURL:       "https://example.com",
		UserEmail:    "demo@collivery.co.za",
		UserPassword: "demo",
		BaseURL:      DefaultBaseURL,
		Timeout:      30 * time.Second,
	}
}

// Credentials returns the email and password to log in with.
func (c Config) Credentials() (email, password string) {
	if c.Demo {
		return demoEmail, demoPassword
	}
	return c.UserEmail, c.UserPassword
}

// CacheMode controls how the client uses its Store.
type CacheMode int

const (
	// CacheDisabled never reads or writes the store.
	CacheDisabled CacheMode = iota
	// CacheRefresh always calls the API and writes results to the store.
	CacheRefresh
	// CacheReadThrough serves from the store and fills it on a miss.
	CacheReadThrough
)

// String returns the mode name.
func (m CacheMode) String() string {
	switch m {
	case CacheDisabled:
		return "disabled"
	case CacheRefresh:
		return "refresh"
	case CacheReadThrough:
		return "read_through"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

// ParseCacheMode parses a mode name as returned by String.
func ParseCacheMode(s string) (CacheMode, error) {
	switch s {
	case "disabled":
		return CacheDisabled, nil
	case "refresh":
		return CacheRefresh, nil
	case "read_through", "":
		return CacheReadThrough, nil
	default:
		return CacheDisabled, fmt.Errorf("unknown cache mode %q", s)
	}
}

// Session is the authenticated state of the configured account.
type Session struct {
	Token            string
	ClientID         int
	UserID           int
	DefaultAddressID int
	Email            string
}

// Client is the Collivery API client.
type Client struct {
	config    Config
	apiClient APIClient
	store     cache.Store
	ownsStore bool
	cacheMode CacheMode

	session *Session
	errors  ErrorSet

	logger *otelzap.Logger
	tracer trace.Tracer
}

// New creates a client. With cfg.UseMock the client talks to a
// MockAPIClient; otherwise it uses the HTTP API. A nil store opens a Badger
// store in cfg.CacheDir, or in memory when that is empty.
func New(cfg Config, store cache.Store, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient
	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:    cfg.BaseURL,
			AppName:    cfg.AppName,
			AppVersion: cfg.AppVersion,
			AppHost:    cfg.AppHost,
			AppLang:    cfg.AppLang,
			AppURL:     cfg.AppURL,
			Timeout:    cfg.Timeout,
		})
	}
	return NewWithAPIClient(cfg, apiClient, store, logger, tracer)
}

// NewWithAPIClient creates a client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, store cache.Store, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/collivery")
	}

	c := &Client{
		config:    cfg,
		apiClient: apiClient,
		store:     store,
		cacheMode: CacheReadThrough,
		errors:    make(ErrorSet),
		logger:    logger,
		tracer:    tracer,
	}

	if store == nil {
		s, err := cache.OpenBadger(cfg.CacheDir)
		if err != nil {
			logger.Warn("Cache store unavailable, caching disabled", zap.Error(err))
			c.cacheMode = CacheDisabled
		} else {
			c.store = s
			c.ownsStore = true
		}
	}
	return c
}

// Close releases a store the client opened itself.
func (c *Client) Close() error {
	if c.ownsStore && c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Errors returns every error recorded since the last ClearErrors.
func (c *Client) Errors() ErrorSet {
	return c.errors.Clone()
}

// HasErrors reports whether any error has been recorded since the last
// ClearErrors. The accumulator is never reset by the client itself.
func (c *Client) HasErrors() bool {
	return len(c.errors) > 0
}

// ClearErrors empties the accumulator.
func (c *Client) ClearErrors() {
	c.errors = make(ErrorSet)
}

// CacheMode returns the current cache mode.
func (c *Client) CacheMode() CacheMode {
	return c.cacheMode
}

// SetCacheMode changes how subsequent calls use the store.
func (c *Client) SetCacheMode(mode CacheMode) {
	if c.store == nil {
		mode = CacheDisabled
	}
	c.cacheMode = mode
}

// DisableCache bypasses the store entirely.
func (c *Client) DisableCache() { c.SetCacheMode(CacheDisabled) }

// IgnoreCache always calls the API but still refreshes the store.
func (c *Client) IgnoreCache() { c.SetCacheMode(CacheRefresh) }

// EnableCache serves from the store when possible.
func (c *Client) EnableCache() { c.SetCacheMode(CacheReadThrough) }

// DefaultAddressID returns the account's primary address.
func (c *Client) DefaultAddressID(ctx context.Context) (int, error) {
	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return 0, o.err()
	}
	return c.session.DefaultAddressID, nil
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "collivery."+name, trace.WithAttributes(attrs...))
}

// call performs an authenticated request. Failures are recorded on o.
func (c *Client) call(ctx context.Context, o *op, method, path string, params map[string]any) (json.RawMessage, bool) {
	if !c.ensureSession(ctx, o) {
		return nil, false
	}
	if params == nil {
		params = make(map[string]any)
	}
	params["api_token"] = c.session.Token

	raw, err := c.apiClient.Request(ctx, method, path, params)
	if err != nil {
		c.logger.Ctx(ctx).Error("Collivery API error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		o.failTransport(err)
		return nil, false
	}
	return raw, true
}

func (c *Client) get(ctx context.Context, o *op, path string, params map[string]any) (json.RawMessage, bool) {
	return c.call(ctx, o, http.MethodGet, path, params)
}

func (c *Client) post(ctx context.Context, o *op, path string, params map[string]any) (json.RawMessage, bool) {
	return c.call(ctx, o, http.MethodPost, path, params)
}

func (c *Client) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.cacheMode != CacheReadThrough {
		return nil, false
	}
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Ctx(ctx).Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return value, true
}

func (c *Client) cachePut(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.cacheMode == CacheDisabled {
		return
	}
	data, ok := value.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(value); err != nil {
			c.logger.Ctx(ctx).Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
			return
		}
	}
	if err := c.store.Put(ctx, key, data, ttl); err != nil {
		c.logger.Ctx(ctx).Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) cacheForget(ctx context.Context, keys ...string) {
	if c.store == nil {
		return
	}
	for _, key := range keys {
		if err := c.store.Forget(ctx, key); err != nil {
			c.logger.Ctx(ctx).Warn("Cache forget failed", zap.String("key", key), zap.Error(err))
		}
	}
}
