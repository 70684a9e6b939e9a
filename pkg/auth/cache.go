package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Token cache defaults.
const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
)

// CachingVerifier memoizes successful verifications of another
// [TokenVerifier]. Entries are keyed by the SHA-256 of the token, so raw
// tokens are never held in memory, and expire at the earlier of the cache
// TTL and the token's exp claim. Failures are never cached.
//
// Claims are deep-copied when stored and again on every hit, so no two
// requests presenting the same token share a map or slice.
//
// When the cache is full, expired entries are dropped first, then the
// entry closest to expiry.
type CachingVerifier struct {
	next  TokenVerifier
	cache *tokenCache
}

// NewCachingVerifier wraps next. Non-positive ttl or maxEntries select the
// defaults.
func NewCachingVerifier(next TokenVerifier, ttl time.Duration, maxEntries int) *CachingVerifier {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &CachingVerifier{next: next, cache: newTokenCache(ttl, maxEntries, time.Now)}
}

// Verify implements [TokenVerifier].
func (v *CachingVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if err := checkRawToken(rawToken); err != nil {
		return nil, err
	}
	key := tokenHash(rawToken)
	if claims, ok := v.cache.get(key); ok {
		return claims.clone(), nil
	}

	claims, err := v.next.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	exp, _ := claims.Time("exp")
	v.cache.put(key, claims.clone(), exp)
	return claims, nil
}

// Len returns the number of cached entries, including expired ones not
// yet evicted.
func (v *CachingVerifier) Len() int {
	return v.cache.len()
}

type tokenCacheEntry struct {
	claims    Claims
	expiresAt time.Time
}

type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]tokenCacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func newTokenCache(ttl time.Duration, maxSize int, now func() time.Time) *tokenCache {
	return &tokenCache{
		entries: make(map[string]tokenCacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     now,
	}
}

// get returns the stored claims for key while the entry is live. The
// caller must copy them before handing them out.
func (c *tokenCache) get(key string) (Claims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

// put stores claims until min(ttl, tokenExp). A zero tokenExp means the
// token carries no expiry and the cache TTL alone applies.
func (c *tokenCache) put(key string, claims Claims, tokenExp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.ttl)
	if !tokenExp.IsZero() && tokenExp.Before(expiresAt) {
		expiresAt = tokenExp
	}
	if !now.Before(expiresAt) {
		return
	}

	if len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.expiresAt.Before(oldest) {
				oldestKey, oldest = k, e.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = tokenCacheEntry{claims: claims, expiresAt: expiresAt}
}

func (c *tokenCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func tokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
