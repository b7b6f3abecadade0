package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/you/carebook/domain"
)

// RedisCache implements domain.CredentialCache for one device using Redis
type RedisCache struct {
	client      redis.Cmdable
	identityKey string
	tokenKey    string
	ttl         time.Duration
	logger      *slog.Logger
}

// NewRedisCache creates a cache whose keys live under prefix:deviceID
func NewRedisCache(client redis.Cmdable, prefix, deviceID string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	ns := fmt.Sprintf("%s:%s:", prefix, deviceID)
	return &RedisCache{
		client:      client,
		identityKey: ns + IdentityKey,
		tokenKey:    ns + TokenKey,
		ttl:         ttl,
		logger:      logger,
	}
}

// Read implements domain.SessionCache. Corrupt records are deleted.
func (c *RedisCache) Read(ctx context.Context) *domain.Identity {
	data, err := c.client.Get(ctx, c.identityKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "session cache read failed", "key", c.identityKey, "error", err)
		}
		return nil
	}

	identity, err := decodeIdentity(data)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping corrupt session cache record", "key", c.identityKey, "error", err)
		if err := c.client.Del(ctx, c.identityKey).Err(); err != nil {
			c.logger.WarnContext(ctx, "failed to delete corrupt record", "key", c.identityKey, "error", err)
		}
		return nil
	}
	return identity
}

// Write implements domain.SessionCache
func (c *RedisCache) Write(ctx context.Context, identity domain.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	return c.client.Set(ctx, c.identityKey, data, c.ttl).Err()
}

// Clear implements domain.SessionCache
func (c *RedisCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.identityKey).Err()
}

// ReadToken implements domain.TokenStore
func (c *RedisCache) ReadToken(ctx context.Context) (string, bool) {
	token, err := c.client.Get(ctx, c.tokenKey).Result()
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

// WriteToken implements domain.TokenStore. A token whose exp claim comes
// before the cache TTL expires with the claim.
func (c *RedisCache) WriteToken(ctx context.Context, token string) error {
	ttl := c.ttl
	if exp, ok := TokenExpiry(token); ok {
		if left := time.Until(exp); left > 0 && (ttl <= 0 || left < ttl) {
			ttl = left
		}
	}
	return c.client.Set(ctx, c.tokenKey, token, ttl).Err()
}

// ClearToken implements domain.TokenStore
func (c *RedisCache) ClearToken(ctx context.Context) error {
	return c.client.Del(ctx, c.tokenKey).Err()
}

func decodeIdentity(data []byte) (*domain.Identity, error) {
	var raw domain.RawIdentity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	return domain.SanitizeIdentity(raw)
}

var _ domain.CredentialCache = (*RedisCache)(nil)
