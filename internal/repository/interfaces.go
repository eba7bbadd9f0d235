package repository

import (
	"context"
	"time"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

// TokenUpdate carries a partial update for a token row. Nil fields are left
// untouched.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	ExpiresIn    *int64
	ExpiresAt    *time.Time
	Scope        []string
	Metadata     map[string]any
	IsActive     *bool
}

// TokenRepository handles durable token persistence. The store is the single
// source of truth; the cache is always subordinate to it.
type TokenRepository interface {
	Find(ctx context.Context, id int64) (*domain.Token, error)
	FindValid(ctx context.Context, userID *int64, connection string) (*domain.Token, error)
	FindByDomain(ctx context.Context, portalDomain, connection string) (*domain.Token, error)
	Upsert(ctx context.Context, data domain.TokenData, userID *int64, connection string, expiresAt *time.Time) (*domain.Token, error)
	Update(ctx context.Context, id int64, upd TokenUpdate) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	AllForUser(ctx context.Context, userID int64) ([]domain.Token, error)
	ListExpired(ctx context.Context) ([]domain.Token, error)
	ListExpiringSoon(ctx context.Context, window time.Duration) ([]domain.Token, error)
	Deactivate(ctx context.Context, id int64) (bool, error)
	Activate(ctx context.Context, id int64) (bool, error)
}

// TokenCache is the fast lookup layer in front of TokenRepository, keyed by
// (connection, user) with its own TTL independent of token expiry.
type TokenCache interface {
	Get(ctx context.Context, connection string, userID *int64) (*domain.Token, error)
	Put(ctx context.Context, connection string, userID *int64, token *domain.Token, ttl time.Duration) error
	Forget(ctx context.Context, connection string, userID *int64) error
}

// WebhookRepository is the audit/retry ledger for inbound Bitrix24 events.
type WebhookRepository interface {
	Find(ctx context.Context, id int64) (*domain.Webhook, error)
	Create(ctx context.Context, webhook domain.Webhook) (*domain.Webhook, error)
	Delete(ctx context.Context, id int64) (bool, error)
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	Pending(ctx context.Context, limit int) ([]domain.Webhook, error)
	Failed(ctx context.Context, limit int) ([]domain.Webhook, error)
	ByEvent(ctx context.Context, event string, limit int) ([]domain.Webhook, error)
}
