package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sliva-name/bitrix24-bridge/internal/adapter/cache"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

func newTestCache(t *testing.T) (*cache.RedisTokenCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisTokenCache(client, "bitrix24_tokens"), srv
}

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	uid := int64(42)
	at := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := &domain.Token{
		ID:           5,
		Connection:   "main",
		UserID:       &uid,
		Domain:       "portal.bitrix24.test",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    3600,
		ExpiresAt:    &at,
		Scope:        []string{"crm", "task"},
		IsActive:     true,
	}

	require.NoError(t, c.Put(ctx, "main", &uid, tok, time.Hour))

	got, err := c.Get(ctx, "main", &uid)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, tok.ID, got.ID)
	// Secrets survive the round trip even though the domain type hides them
	// from JSON.
	require.Equal(t, "access", got.AccessToken)
	require.Equal(t, "refresh", got.RefreshToken)
	require.Equal(t, []string{"crm", "task"}, got.Scope)
	require.True(t, got.ExpiresAt.Equal(at))
}

func TestMissReturnsNil(t *testing.T) {
	c, _ := newTestCache(t)

	got, err := c.Get(context.Background(), "main", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestKeyLayout(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	uid := int64(7)
	require.NoError(t, c.Put(ctx, "main", &uid, &domain.Token{ID: 1}, time.Hour))
	require.NoError(t, c.Put(ctx, "main", nil, &domain.Token{ID: 2}, time.Hour))

	require.True(t, srv.Exists("bitrix24_tokens:main:7"))
	require.True(t, srv.Exists("bitrix24_tokens:main:guest"))
}

func TestForget(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	uid := int64(7)
	require.NoError(t, c.Put(ctx, "main", &uid, &domain.Token{ID: 1}, time.Hour))
	require.NoError(t, c.Forget(ctx, "main", &uid))
	require.False(t, srv.Exists("bitrix24_tokens:main:7"))

	// Forgetting a missing key is not an error.
	require.NoError(t, c.Forget(ctx, "main", &uid))
}

func TestEntryExpiresWithTTL(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	uid := int64(7)
	require.NoError(t, c.Put(ctx, "main", &uid, &domain.Token{ID: 1}, time.Minute))

	srv.FastForward(2 * time.Minute)

	got, err := c.Get(ctx, "main", &uid)
	require.NoError(t, err)
	require.Nil(t, got)
}
