package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache file format:
//
//	{"access_tokens": {"someone@example.com": "<jwt>"}}

var (
	ErrTokenExpired = errors.New("cached access token expired")
	ErrTokenInvalid = errors.New("cached access token is not a valid JWT")
)

// TokenCache stores access tokens per account email in a JSON file.
type TokenCache struct {
	path string
}

// NewTokenCache creates a cache backed by cache.json in dir.
func NewTokenCache(dir string) *TokenCache {
	return &TokenCache{path: filepath.Join(dir, "cache.json")}
}

type cacheFile struct {
	AccessTokens map[string]string `json:"access_tokens"`
}

// Get returns the cached token for email, after validating its expiry claim.
// An expired or malformed token yields an error so callers fall through to a
// fresh login.
func (c *TokenCache) Get(email string) (string, error) {
	data, err := c.read()
	if err != nil {
		return "", err
	}
	token := data.AccessTokens[keyFor(email)]
	if token == "" {
		return "", nil
	}
	if err := checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// Put stores the token for email, creating the cache directory if needed.
func (c *TokenCache) Put(email, token string) error {
	data, err := c.read()
	if err != nil {
		return err
	}
	if data.AccessTokens == nil {
		data.AccessTokens = map[string]string{}
	}
	data.AccessTokens[keyFor(email)] = token

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, raw, 0o600)
}

func (c *TokenCache) read() (cacheFile, error) {
	var data cacheFile
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return data, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		// A corrupt cache is treated as empty rather than fatal.
		return cacheFile{}, nil
	}
	return data, nil
}

func keyFor(email string) string {
	if email == "" {
		return "default"
	}
	return email
}

// checkExpiry decodes the JWT payload and rejects tokens past their exp
// claim. Tokens without an exp claim pass.
func checkExpiry(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTokenInvalid, err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fmt.Errorf("%w: %s", ErrTokenInvalid, err)
	}
	if claims.Exp != 0 && claims.Exp < time.Now().Unix() {
		return ErrTokenExpired
	}
	return nil
}
