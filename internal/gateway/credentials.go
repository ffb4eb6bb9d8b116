package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/akylbek/payment-system/pix-charges/internal/metrics"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

const maxResponseBody = 1 << 20

// AuthConfig describes the client-credentials exchange.
type AuthConfig struct {
	TokenURL string
	ClientID string
	Scope    string

	// SafetyMargin is subtracted from the reported lifetime so a token is
	// never presented right as it expires.
	SafetyMargin time.Duration
	// DefaultLifetime applies when the server omits expires_in.
	DefaultLifetime time.Duration
	// ExchangeTimeout bounds a single exchange, independent of the caller.
	ExchangeTimeout time.Duration
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// CredentialCache hands out a gateway access token, exchanging a new one only
// when the cached token is missing or about to expire. Concurrent callers
// that find the cache empty share one exchange.
type CredentialCache struct {
	cfg    AuthConfig
	hc     *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	cred models.Credential

	group singleflight.Group
}

func NewCredentialCache(cfg AuthConfig, hc *http.Client, logger *zap.Logger) *CredentialCache {
	if cfg.DefaultLifetime <= 0 {
		cfg.DefaultLifetime = 5 * time.Minute
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}
	return &CredentialCache{
		cfg:    cfg,
		hc:     hc,
		logger: logger,
		now:    time.Now,
	}
}

// Token returns a credential valid for at least the safety margin.
func (c *CredentialCache) Token(ctx context.Context) (models.Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	// The exchange outlives any single waiter so one cancelled request does
	// not fail the others sharing it.
	ch := c.group.DoChan("token", func() (interface{}, error) {
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ExchangeTimeout)
		defer cancel()

		cred, err := c.exchange(exCtx)
		if err != nil {
			metrics.TokenExchanges.WithLabelValues("error").Inc()
			c.logger.Warn("gateway token exchange failed", zap.Error(err))
			return models.Credential{}, err
		}
		metrics.TokenExchanges.WithLabelValues("ok").Inc()

		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return models.Credential{}, &AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return models.Credential{}, res.Err
		}
		return res.Val.(models.Credential), nil
	}
}

// Invalidate drops the cached credential if it is still the given token.
// A token already replaced by a concurrent refresh is left alone.
func (c *CredentialCache) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred.Token == token {
		c.cred = models.Credential{}
	}
}

func (c *CredentialCache) cached() (models.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.cred.Valid(c.now(), c.cfg.SafetyMargin)
}

func (c *CredentialCache) exchange(ctx context.Context) (models.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Credential{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return models.Credential{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return models.Credential{}, &AuthError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Credential{}, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return models.Credential{}, &AuthError{Status: resp.StatusCode, Body: string(body), Err: err}
	}
	if tr.AccessToken == "" {
		return models.Credential{}, &AuthError{Status: resp.StatusCode, Body: string(body), Err: errMissingToken}
	}

	lifetime := c.cfg.DefaultLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	return models.Credential{
		Token:     tr.AccessToken,
		ExpiresAt: c.now().Add(lifetime),
	}, nil
}
