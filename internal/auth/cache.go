package auth

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"accordgo/internal/redis"
)

const tokenCacheTTL = 15 * time.Minute

// tokenCache keeps token lookups out of the database on the hot path.
// Entries expire on their own; revocation deletes them eagerly.
type tokenCache struct {
	client *redis.Client
}

func newTokenCache(client *redis.Client) *tokenCache {
	return &tokenCache{client: client}
}

func tokenKey(token string) string {
	return fmt.Sprintf("auth:token:%s", token)
}

func (c *tokenCache) lookup(ctx context.Context, token string) (int64, bool) {
	if c == nil || c.client == nil || token == "" {
		return 0, false
	}
	raw, err := c.client.Get(ctx, tokenKey(token))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("auth token cache lookup failed: %v", err)
		}
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func (c *tokenCache) store(ctx context.Context, token string, userID int64, expiresAt time.Time) {
	if c == nil || c.client == nil || token == "" || userID <= 0 {
		return
	}
	ttl := tokenCacheTTL
	if remaining := time.Until(expiresAt); remaining < ttl {
		if remaining <= 0 {
			return
		}
		ttl = remaining
	}
	if err := c.client.Set(ctx, tokenKey(token), strconv.FormatInt(userID, 10), ttl); err != nil {
		log.Printf("auth token cache store failed: %v", err)
	}
}

func (c *tokenCache) invalidate(ctx context.Context, tokens ...string) {
	if c == nil || c.client == nil || len(tokens) == 0 {
		return
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			keys = append(keys, tokenKey(t))
		}
	}
	if err := c.client.Del(ctx, keys...); err != nil && err != redis.ErrCacheMiss {
		log.Printf("auth token cache invalidate failed: %v", err)
	}
}
