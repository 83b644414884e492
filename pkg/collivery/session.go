package collivery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	authCacheKey = "collivery.auth"
	authCacheTTL = 50 * time.Minute
)

type loginResponse struct {
	ID       int    `json:"id"`
	Email    string `json:"email_address"`
	APIToken string `json:"api_token"`
	Client   struct {
		ID             int `json:"id"`
		PrimaryAddress struct {
			ID int `json:"id"`
		} `json:"primary_address"`
	} `json:"client"`
}

func (r *loginResponse) session() *Session {
	return &Session{
		Token:            r.APIToken,
		ClientID:         r.Client.ID,
		UserID:           r.ID,
		DefaultAddressID: r.Client.PrimaryAddress.ID,
		Email:            r.Email,
	}
}

// Authenticate logs in the configured account, reusing a cached session
// for the same email when the cache mode allows it.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	ctx, span := c.startSpan(ctx, "Authenticate")
	defer span.End()

	o := c.begin()
	if !c.authenticate(ctx, o) {
		return nil, o.err()
	}
	s := *c.session
	return &s, nil
}

func (c *Client) ensureSession(ctx context.Context, o *op) bool {
	if c.session != nil && c.session.Token != "" {
		return true
	}
	return c.authenticate(ctx, o)
}

func (c *Client) authenticate(ctx context.Context, o *op) bool {
	email, password := c.config.Credentials()

	if raw, ok := c.cacheGet(ctx, authCacheKey); ok {
		var cached loginResponse
		if err := json.Unmarshal(raw, &cached); err == nil && cached.APIToken != "" && cached.Email == email {
			c.session = cached.session()
			return true
		}
	}

	c.logger.Ctx(ctx).Info("Logging in to Collivery", zap.String("email", email))

	raw, err := c.apiClient.Request(ctx, http.MethodPost, "/v3/login", map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Collivery login failed", zap.Error(err))
		o.failTransport(err)
		return false
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.APIToken == "" {
		o.fail("", CodeResultUnexpected, "No result returned.")
		return false
	}

	c.cachePut(ctx, authCacheKey, raw, authCacheTTL)
	c.session = resp.session()
	return true
}
