package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
	"github.com/sliva-name/bitrix24-bridge/internal/repository"
)

// RedisTokenCache implements TokenCache backed by Redis.
type RedisTokenCache struct {
	client redis.UniversalClient
	prefix string
}

var _ repository.TokenCache = (*RedisTokenCache)(nil)

// NewRedisTokenCache constructs a Redis-backed token cache with the
// configured key prefix.
func NewRedisTokenCache(client redis.UniversalClient, prefix string) *RedisTokenCache {
	if prefix == "" {
		prefix = "bitrix24_tokens"
	}
	return &RedisTokenCache{client: client, prefix: prefix}
}

// tokenEnvelope is the cache wire form. The domain type hides secrets from
// JSON on purpose, so the cache carries them explicitly; cache values never
// leave the process boundary other than through Redis.
type tokenEnvelope struct {
	ID           int64          `json:"id"`
	Connection   string         `json:"connection"`
	UserID       *int64         `json:"user_id"`
	Domain       string         `json:"domain"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	Scope        []string       `json:"scope,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Get loads and decodes the cached token, returning nil on miss.
func (c *RedisTokenCache) Get(ctx context.Context, connection string, userID *int64) (*domain.Token, error) {
	bytes, err := c.client.Get(ctx, c.key(connection, userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load cached token: %w", err)
	}
	var env tokenEnvelope
	if err := json.Unmarshal(bytes, &env); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &domain.Token{
		ID:           env.ID,
		Connection:   env.Connection,
		UserID:       env.UserID,
		Domain:       env.Domain,
		AccessToken:  env.AccessToken,
		RefreshToken: env.RefreshToken,
		ExpiresIn:    env.ExpiresIn,
		ExpiresAt:    env.ExpiresAt,
		Scope:        env.Scope,
		Metadata:     env.Metadata,
		IsActive:     env.IsActive,
		CreatedAt:    env.CreatedAt,
		UpdatedAt:    env.UpdatedAt,
	}, nil
}

// Put stores the encoded token with the cache's own TTL, overwriting any
// existing entry for the key.
func (c *RedisTokenCache) Put(ctx context.Context, connection string, userID *int64, token *domain.Token, ttl time.Duration) error {
	payload, err := json.Marshal(tokenEnvelope{
		ID:           token.ID,
		Connection:   token.Connection,
		UserID:       token.UserID,
		Domain:       token.Domain,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
		Metadata:     token.Metadata,
		IsActive:     token.IsActive,
		CreatedAt:    token.CreatedAt,
		UpdatedAt:    token.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := c.client.Set(ctx, c.key(connection, userID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist cached token: %w", err)
	}
	return nil
}

// Forget removes the cached token for the key.
func (c *RedisTokenCache) Forget(ctx context.Context, connection string, userID *int64) error {
	if err := c.client.Del(ctx, c.key(connection, userID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete cached token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) key(connection string, userID *int64) string {
	owner := "guest"
	if userID != nil {
		owner = strconv.FormatInt(*userID, 10)
	}
	return c.prefix + ":" + connection + ":" + owner
}
