package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const DefaultRevocationTTL = time.Hour

// TokenBlocklist records revoked JWT ids until the token would have expired
// anyway.
type TokenBlocklist struct {
	client     *redisv9.Client
	defaultTTL time.Duration
}

func NewTokenBlocklist(client *redisv9.Client, defaultTTL time.Duration) *TokenBlocklist {
	if defaultTTL <= 0 {
		defaultTTL = DefaultRevocationTTL
	}
	return &TokenBlocklist{client: client, defaultTTL: defaultTTL}
}

// Revoke blocks jti for ttl, or for the default TTL when ttl is not positive.
func (b *TokenBlocklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	if err := b.client.Set(ctx, blocklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke token failed: %w", err)
	}
	return nil
}

func (b *TokenBlocklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, blocklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked token failed: %w", err)
	}
	return n > 0, nil
}

func blocklistKey(jti string) string {
	return "auth:revoked:" + jti
}
