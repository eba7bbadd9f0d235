package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	bitrixadapter "github.com/sliva-name/bitrix24-bridge/internal/adapter/bitrix"
	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
	"github.com/sliva-name/bitrix24-bridge/internal/repository"
)

// Manager orchestrates the token store and cache: it serves valid tokens,
// refreshes tokens entering the soon window, and demotes tokens whose
// refresh fails. The store is the source of truth; the cache is disposable.
type Manager struct {
	repo     repository.TokenRepository
	cache    repository.TokenCache
	exchange bitrixadapter.Exchange
	cfg      config.Config
	logger   *zap.Logger

	// refreshGroup deduplicates concurrent refreshes per (connection, user)
	// key so at most one provider round trip is in flight at a time.
	refreshGroup singleflight.Group
}

// NewManager wires the token manager.
func NewManager(
	repo repository.TokenRepository,
	cache repository.TokenCache,
	exchange bitrixadapter.Exchange,
	cfg config.Config,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		repo:     repo,
		cache:    cache,
		exchange: exchange,
		cfg:      cfg,
		logger:   logger,
	}
}

// GetToken returns a valid token for the user and connection, or nil when
// none exists. A cache hit that is not expired is served without touching
// the store; a cached-but-expired entry is treated as a miss. Tokens inside
// the soon window are refreshed before being returned.
func (m *Manager) GetToken(ctx context.Context, userID *int64, connection string) (*domain.Token, error) {
	connection = m.connectionName(connection)

	cached, err := m.cache.Get(ctx, connection, userID)
	if err != nil {
		m.log().Warn("token cache read failed", zap.String("connection", connection), zap.Error(err))
	}
	if cached != nil && !cached.IsExpired() {
		return cached, nil
	}

	token, err := m.repo.FindValid(ctx, userID, connection)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	if token.IsExpiringSoon() {
		token, err = m.refreshShared(ctx, userID, connection, token)
		if err != nil {
			return nil, err
		}
	}

	m.cacheToken(ctx, token)

	return token, nil
}

// Authorize swaps an OAuth authorization code for a token pair and persists
// it for the user.
func (m *Manager) Authorize(ctx context.Context, userID *int64, connection, code string) (*domain.Token, error) {
	connection = m.connectionName(connection)

	conn, ok := m.cfg.Connection(connection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, connection)
	}

	data, err := m.exchange.ExchangeCode(ctx, conn, code)
	if err != nil {
		return nil, err
	}

	return m.StoreToken(ctx, *data, userID, connection)
}

// StoreToken persists a freshly exchanged token and primes the cache.
func (m *Manager) StoreToken(ctx context.Context, data domain.TokenData, userID *int64, connection string) (*domain.Token, error) {
	connection = m.connectionName(connection)

	// A provider response without expires_in means the token never expires;
	// the column still records the conventional 3600s.
	var expiresAt *time.Time
	if data.ExpiresIn > 0 {
		at := time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)
		expiresAt = &at
	} else {
		data.ExpiresIn = 3600
	}

	token, err := m.repo.Upsert(ctx, data, userID, connection, expiresAt)
	if err != nil {
		return nil, err
	}

	m.cacheToken(ctx, token)

	return token, nil
}

// RefreshToken performs a provider round trip with the token's refresh
// token, persists the rotated pair, and re-caches the row. On any failure
// the token is deactivated and its cache entry invalidated before the error
// propagates: a token that failed refresh is never served again.
func (m *Manager) RefreshToken(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	refreshed, err := m.doRefresh(ctx, token)
	if err != nil {
		m.demote(ctx, token, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}
	return refreshed, nil
}

func (m *Manager) doRefresh(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	conn, ok := m.cfg.Connection(token.Connection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, token.Connection)
	}

	data, err := m.exchange.Refresh(ctx, conn, token)
	if err != nil {
		return nil, err
	}

	expiresIn := data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = token.ExpiresIn
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)

	upd := repository.TokenUpdate{
		AccessToken: &data.AccessToken,
		ExpiresIn:   &expiresIn,
		ExpiresAt:   &expiresAt,
	}
	// The provider may rotate the refresh token; keep the old one when it
	// does not.
	if data.RefreshToken != "" {
		upd.RefreshToken = &data.RefreshToken
	}

	ok, err = m.repo.Update(ctx, token.ID, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("token %d no longer exists", token.ID)
	}

	reloaded, err := m.repo.Find(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	if reloaded == nil {
		return nil, fmt.Errorf("token %d no longer exists", token.ID)
	}

	// Store write completed above; only now may the cache observe it.
	m.cacheToken(ctx, reloaded)

	return reloaded, nil
}

func (m *Manager) demote(ctx context.Context, token *domain.Token, cause error) {
	if _, err := m.repo.Deactivate(ctx, token.ID); err != nil {
		m.log().Error("deactivate token after failed refresh", zap.Int64("token_id", token.ID), zap.Error(err))
	}
	if err := m.cache.Forget(ctx, token.Connection, token.UserID); err != nil {
		m.log().Warn("invalidate token cache after failed refresh", zap.Int64("token_id", token.ID), zap.Error(err))
	}
	m.log().Warn("token refresh failed, token deactivated",
		zap.Int64("token_id", token.ID),
		zap.String("connection", token.Connection),
		zap.Error(cause),
	)
}

// refreshShared funnels concurrent refresh attempts for the same key into a
// single provider round trip; every caller receives the shared result.
func (m *Manager) refreshShared(ctx context.Context, userID *int64, connection string, token *domain.Token) (*domain.Token, error) {
	result, err, _ := m.refreshGroup.Do(refreshKey(connection, userID), func() (any, error) {
		// Another caller may have refreshed while we waited; re-read the
		// authoritative row before hitting the provider.
		current, err := m.repo.FindValid(ctx, userID, connection)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: token was revoked during refresh", domain.ErrRefreshFailed)
		}
		if !current.IsExpiringSoon() {
			return current, nil
		}
		return m.RefreshToken(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Token), nil
}

// RevokeToken deactivates the token and drops its cache entry. Missing ids
// report false without side effects.
func (m *Manager) RevokeToken(ctx context.Context, tokenID int64) (bool, error) {
	token, err := m.repo.Find(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if token == nil {
		return false, nil
	}

	ok, err := m.repo.Deactivate(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if ok {
		if err := m.cache.Forget(ctx, token.Connection, token.UserID); err != nil {
			m.log().Warn("invalidate token cache after revoke", zap.Int64("token_id", tokenID), zap.Error(err))
		}
	}
	return ok, nil
}

// GetCredentials builds the outbound credential set for the connection, or
// nil when no valid token exists.
func (m *Manager) GetCredentials(ctx context.Context, userID *int64, connection string) (*domain.Credentials, error) {
	connection = m.connectionName(connection)

	token, err := m.GetToken(ctx, userID, connection)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	conn, ok := m.cfg.Connection(connection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, connection)
	}

	return &domain.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Domain:       token.Domain,
	}, nil
}

// HasValidToken reports whether a usable token exists for the user.
func (m *Manager) HasValidToken(ctx context.Context, userID *int64, connection string) (bool, error) {
	token, err := m.GetToken(ctx, userID, connection)
	if err != nil {
		return false, err
	}
	return token != nil && !token.IsExpired(), nil
}

func (m *Manager) cacheToken(ctx context.Context, token *domain.Token) {
	if err := m.cache.Put(ctx, token.Connection, token.UserID, token, m.cfg.CacheTTL); err != nil {
		m.log().Warn("token cache write failed", zap.Int64("token_id", token.ID), zap.Error(err))
	}
}

func (m *Manager) connectionName(connection string) string {
	if connection == "" {
		return m.cfg.DefaultConnection
	}
	return connection
}

func (m *Manager) log() *zap.Logger {
	if m != nil && m.logger != nil {
		return m.logger
	}
	return zap.L()
}

func refreshKey(connection string, userID *int64) string {
	owner := "guest"
	if userID != nil {
		owner = strconv.FormatInt(*userID, 10)
	}
	return connection + ":" + owner
}
