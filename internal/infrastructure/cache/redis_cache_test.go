package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/logger"
)

// setupTestRedis creates an in-memory Redis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testIdentity() domain.Identity {
	return domain.Identity{ID: "1", FirstName: "A", LastName: "B", Email: "a@b.com", Role: domain.RoleClient}
}

func TestRedisCache_WriteRead(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
	ctx := context.Background()

	assert.Nil(t, c.Read(ctx), "empty cache reads as absent")

	require.NoError(t, c.Write(ctx, testIdentity()))
	assert.True(t, mr.Exists("carebook:dev-1:user"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("carebook:dev-1:user").Seconds(), 1)

	got := c.Read(ctx)
	require.NotNil(t, got)
	assert.Equal(t, testIdentity(), *got)
}

func TestRedisCache_DevicesAreIsolated(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisCache(client, "carebook", "dev-a", time.Hour, logger.Discard())
	b := NewRedisCache(client, "carebook", "dev-b", time.Hour, logger.Discard())

	require.NoError(t, a.Write(ctx, testIdentity()))
	assert.NotNil(t, a.Read(ctx))
	assert.Nil(t, b.Read(ctx))
}

func TestRedisCache_CorruptRecordSelfHeals(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{not json"},
		{name: "json array", data: `["a","b"]`},
		{name: "missing fields", data: `{"id":"1","email":"a@b.com"}`},
		{name: "unknown role", data: `{"id":"1","firstName":"A","lastName":"B","email":"a@b.com","role":"root"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, client := setupTestRedis(t)
			c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
			require.NoError(t, mr.Set("carebook:dev-1:user", tt.data))

			assert.Nil(t, c.Read(context.Background()))
			assert.False(t, mr.Exists("carebook:dev-1:user"), "corrupt record should be removed")
		})
	}
}

func TestRedisCache_Clear(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, testIdentity()))
	require.NoError(t, c.WriteToken(ctx, "tok"))
	require.NoError(t, c.Clear(ctx))

	assert.False(t, mr.Exists("carebook:dev-1:user"))
	assert.True(t, mr.Exists("carebook:dev-1:access_token"), "clearing the identity leaves the token entry")
	assert.NoError(t, c.Clear(ctx), "clearing twice is fine")
}

func TestRedisCache_Token(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
	ctx := context.Background()

	_, ok := c.ReadToken(ctx)
	assert.False(t, ok)

	require.NoError(t, c.WriteToken(ctx, "bearer-123"))
	token, ok := c.ReadToken(ctx)
	assert.True(t, ok)
	assert.Equal(t, "bearer-123", token)

	require.NoError(t, c.ClearToken(ctx))
	_, ok = c.ReadToken(ctx)
	assert.False(t, ok)
}

func TestRedisCache_TokenTTLFollowsExpiry(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   time.Duration
		expectedTTL time.Duration
	}{
		{name: "claim before cache ttl", expiresIn: 10 * time.Minute, expectedTTL: 10 * time.Minute},
		{name: "claim after cache ttl", expiresIn: 48 * time.Hour, expectedTTL: time.Hour},
		{name: "claim already passed", expiresIn: -time.Minute, expectedTTL: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, client := setupTestRedis(t)
			c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(tt.expiresIn)),
			}).SignedString([]byte("secret"))
			require.NoError(t, err)

			require.NoError(t, c.WriteToken(context.Background(), signed))

			assert.InDelta(t, tt.expectedTTL.Seconds(), mr.TTL("carebook:dev-1:access_token").Seconds(), 2)
		})
	}
}

func TestRedisCache_ReadWhenRedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "carebook", "dev-1", time.Hour, logger.Discard())
	require.NoError(t, c.Write(context.Background(), testIdentity()))

	mr.Close()

	assert.Nil(t, c.Read(context.Background()))
	_, ok := c.ReadToken(context.Background())
	assert.False(t, ok)
}
