package backend

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// tokenTTL is how long a fetched bearer token stays fresh.
const tokenTTL = 300 * time.Second

// TokenSource produces bearer tokens for prediction endpoints.
type TokenSource interface {
	Token() (string, error)
}

// EnvTokenSource reads the token from an environment variable on every call.
type EnvTokenSource struct {
	Var string
}

func (s EnvTokenSource) Token() (string, error) {
	v := os.Getenv(s.Var)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", s.Var)
	}
	return v, nil
}

// FileTokenSource reads the token from a file on every call.
type FileTokenSource struct {
	Path string
}

func (s FileTokenSource) Token() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", s.Path)
	}
	return token, nil
}

// CachedTokenSource wraps a TokenSource and refreshes its token once the
// cached one is older than tokenTTL. The refresh runs synchronously under
// the lock, so concurrent callers see either the still-valid token or the
// freshly fetched one. A failed refresh returns TokenRefreshError to the
// caller that triggered it and leaves the cached state unchanged.
type CachedTokenSource struct {
	src TokenSource

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

func NewCachedTokenSource(src TokenSource) *CachedTokenSource {
	return &CachedTokenSource{src: src}
}

func (c *CachedTokenSource) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Since(c.fetchedAt) <= tokenTTL {
		return c.token, nil
	}

	token, err := c.src.Token()
	if err != nil {
		return "", &TokenRefreshError{Err: err}
	}
	c.token = token
	c.fetchedAt = time.Now()
	return token, nil
}
