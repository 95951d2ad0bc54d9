// Package auth caches the backend session token and refreshes it on demand.
// Tokens are JWTs issued by the application backend; the client never holds
// the signing secret, it only needs the expiry claim to decide whether a
// cached token is still usable.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCache holds the most recent session token together with its expiry.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Set stores a token, extracting its expiry from the exp claim. The signature
// is deliberately not verified here; the backend verifies it, the cache only
// reads the claim.
func (c *TokenCache) Set(token string) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("token carries no expiry claim")
	}

	c.mu.Lock()
	c.token = token
	c.expiresAt = claims.ExpiresAt.Time
	c.mu.Unlock()
	return nil
}

// Token returns the cached token, empty when none was set.
func (c *TokenCache) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ValidFor reports whether the cached token remains valid for at least the
// given margin. An empty cache is never valid.
func (c *TokenCache) ValidFor(margin time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return false
	}
	return c.now().Add(margin).Before(c.expiresAt)
}

// Clear drops the cached token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
