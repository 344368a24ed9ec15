package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/revchat/revchat/internal/config"
)

// makeJWT builds an unsigned JWT carrying the given exp claim.
func makeJWT(t *testing.T, exp int64) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload, err := json.Marshal(map[string]int64{"exp": exp})
	require.NoError(t, err)
	return fmt.Sprintf("%s.%s.sig", header, base64.RawURLEncoding.EncodeToString(payload))
}

func TestLogin_AccessTokenPassthrough(t *testing.T) {
	a, err := New(nil, "")
	require.NoError(t, err)

	res, err := a.Login(context.Background(), &config.Config{AccessToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, "tok", res.AccessToken)
}

func TestLogin_SessionRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookieName)
		require.NoError(t, err)
		require.Equal(t, "old-session", c.Value)

		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "rotated-session"})
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "fresh-access"})
	}))
	defer srv.Close()
	t.Setenv("CHATGPT_AUTH_SESSION_URL", srv.URL)

	a, err := New(nil, "")
	require.NoError(t, err)

	res, err := a.Login(context.Background(), &config.Config{SessionToken: "old-session"})
	require.NoError(t, err)
	require.Equal(t, "fresh-access", res.AccessToken)
	require.Equal(t, "rotated-session", res.SessionToken)
}

func TestLogin_SessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	t.Setenv("CHATGPT_AUTH_SESSION_URL", srv.URL)

	a, err := New(nil, "")
	require.NoError(t, err)

	_, err = a.Login(context.Background(), &config.Config{SessionToken: "stale"})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestLogin_EmptyAccessTokenMeansExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()
	t.Setenv("CHATGPT_AUTH_SESSION_URL", srv.URL)

	a, err := New(nil, "")
	require.NoError(t, err)

	_, err = a.Login(context.Background(), &config.Config{SessionToken: "stale"})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestLogin_PasswordUnsupported(t *testing.T) {
	a, err := New(nil, "")
	require.NoError(t, err)

	_, err = a.Login(context.Background(), &config.Config{Email: "a@b.c", Password: "pw"})
	require.ErrorIs(t, err, ErrPasswordLoginUnsupported)
}

func TestLogin_UsesCachedToken(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	token := makeJWT(t, time.Now().Add(time.Hour).Unix())
	require.NoError(t, cache.Put("a@b.c", token))

	a, err := New(cache, "")
	require.NoError(t, err)

	// Password login would fail; the cached token short-circuits it.
	res, err := a.Login(context.Background(), &config.Config{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, token, res.AccessToken)
}

func TestTokenCache_Expiry(t *testing.T) {
	cache := NewTokenCache(t.TempDir())

	expired := makeJWT(t, time.Now().Add(-time.Hour).Unix())
	require.NoError(t, cache.Put("a@b.c", expired))
	_, err := cache.Get("a@b.c")
	require.ErrorIs(t, err, ErrTokenExpired)

	require.NoError(t, cache.Put("a@b.c", "not-a-jwt"))
	_, err = cache.Get("a@b.c")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCache_MissAndDefaultKey(t *testing.T) {
	cache := NewTokenCache(t.TempDir())

	got, err := cache.Get("nobody@example.com")
	require.NoError(t, err)
	require.Empty(t, got)

	token := makeJWT(t, time.Now().Add(time.Hour).Unix())
	require.NoError(t, cache.Put("", token))
	got, err = cache.Get("")
	require.NoError(t, err)
	require.Equal(t, token, got)
}
