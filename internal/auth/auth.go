// Package auth obtains a bearer access token from the credentials available
// in the configuration. Strategies are tried in a fixed order: an explicit
// access token, then a session token exchange, then email and password.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/revchat/revchat/internal/config"
	"github.com/revchat/revchat/internal/logger"
)

// DefaultSessionURL is the session refresh endpoint. Override with the
// CHATGPT_AUTH_SESSION_URL environment variable for proxies and tests.
const DefaultSessionURL = "https://chat.openai.com/api/auth/session"

const sessionCookieName = "__Secure-next-auth.session-token"

// ErrPasswordLoginUnsupported is returned for email/password credentials.
// The provider's browser login flow changes too often to chase; users are
// pointed at session or access tokens instead.
var ErrPasswordLoginUnsupported = errors.New(
	"email/password login is not supported: supply a session_token or access_token instead")

// ErrSessionExpired is returned when the session token no longer yields an
// access token.
var ErrSessionExpired = errors.New("session token rejected or expired; obtain a fresh one")

// Result is a successful authentication outcome.
type Result struct {
	AccessToken string
	// SessionToken is the rotated session cookie, when the service issued
	// one. Callers should persist it for the next run.
	SessionToken string
}

// Authenticator resolves configuration credentials to an access token.
type Authenticator struct {
	httpClient *http.Client
	sessionURL string
	cache      *TokenCache
}

// New creates an authenticator. cache may be nil to disable token caching.
func New(cache *TokenCache, proxy string) (*Authenticator, error) {
	a := &Authenticator{
		httpClient: &http.Client{},
		sessionURL: DefaultSessionURL,
		cache:      cache,
	}
	if env := os.Getenv("CHATGPT_AUTH_SESSION_URL"); env != "" {
		a.sessionURL = env
	}
	if proxy != "" {
		pu, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		a.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(pu)}
	}
	return a, nil
}

// Login resolves cfg's credentials to a bearer access token.
func (a *Authenticator) Login(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg.AccessToken != "" {
		return &Result{AccessToken: cfg.AccessToken}, nil
	}

	if a.cache != nil && cfg.HasEmailLogin() {
		token, err := a.cache.Get(cfg.Email)
		if err != nil {
			logger.L.Debug("cached access token unusable", "error", err)
		} else if token != "" {
			logger.L.Debug("using cached access token", "email", cfg.Email)
			return &Result{AccessToken: token}, nil
		}
	}

	if cfg.SessionToken != "" {
		res, err := a.refreshSession(ctx, cfg.SessionToken)
		if err != nil {
			return nil, err
		}
		a.cacheToken(cfg.Email, res.AccessToken)
		return res, nil
	}

	if cfg.HasEmailLogin() {
		return nil, ErrPasswordLoginUnsupported
	}
	return nil, config.ErrNoCredentials
}

// refreshSession exchanges the session cookie for an access token. The
// service rotates the cookie on every call.
func (a *Authenticator) refreshSession(ctx context.Context, sessionToken string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.sessionURL, nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionToken})

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("session refresh failed: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("session refresh: decoding response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, ErrSessionExpired
	}

	res := &Result{AccessToken: payload.AccessToken}
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			res.SessionToken = c.Value
		}
	}
	return res, nil
}

func (a *Authenticator) cacheToken(email, token string) {
	if a.cache == nil || token == "" {
		return
	}
	if err := a.cache.Put(email, token); err != nil {
		logger.L.Warn("failed to cache access token", "error", err)
	}
}
