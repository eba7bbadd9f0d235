package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

var _ TokenRepository = (*PostgresTokenRepo)(nil)

// PostgresTokenRepo implements TokenRepository on pgx.
type PostgresTokenRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresTokenRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool, node: node}
}

const tokenColumns = `id, connection, user_id, domain, access_token, refresh_token, expires_in, expires_at, scope, metadata, is_active, created_at, updated_at`

// validTokenClause keeps only active tokens that are either perpetual or
// not yet expired.
const validTokenClause = `is_active AND (expires_at IS NULL OR expires_at > now())`

func (r *PostgresTokenRepo) Find(ctx context.Context, id int64) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens WHERE id = $1`
	token, err := scanToken(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) FindValid(ctx context.Context, userID *int64, connection string) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens
WHERE connection = $1 AND user_id IS NOT DISTINCT FROM $2 AND ` + validTokenClause + `
LIMIT 1`
	token, err := scanToken(r.db.QueryRow(ctx, query, connection, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find valid token: %w", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) FindByDomain(ctx context.Context, portalDomain, connection string) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens
WHERE connection = $1 AND domain = $2 AND ` + validTokenClause + `
LIMIT 1`
	token, err := scanToken(r.db.QueryRow(ctx, query, connection, portalDomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find token by domain: %w", err)
	}
	return token, nil
}

const upsertTokenSQL = `INSERT INTO bitrix24_tokens
	(id, connection, user_id, domain, access_token, refresh_token, expires_in, expires_at, scope, metadata, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true)
ON CONFLICT (connection, COALESCE(user_id, 0), domain)
DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_in = EXCLUDED.expires_in,
	expires_at = EXCLUDED.expires_at,
	scope = EXCLUDED.scope,
	metadata = EXCLUDED.metadata,
	is_active = true,
	updated_at = now()
RETURNING ` + tokenColumns

func (r *PostgresTokenRepo) Upsert(ctx context.Context, data domain.TokenData, userID *int64, connection string, expiresAt *time.Time) (*domain.Token, error) {
	scope, err := encodeJSON(data.Scope)
	if err != nil {
		return nil, fmt.Errorf("encode scope: %w", err)
	}
	metadata, err := encodeJSON(data.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	token, err := scanToken(r.db.QueryRow(ctx, upsertTokenSQL,
		r.node.Generate().Int64(),
		connection,
		userID,
		data.Domain,
		data.AccessToken,
		data.RefreshToken,
		data.ExpiresIn,
		expiresAt,
		scope,
		metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert token: %w", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) Update(ctx context.Context, id int64, upd TokenUpdate) (bool, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.AccessToken != nil {
		appendSet("access_token", *upd.AccessToken)
	}
	if upd.RefreshToken != nil {
		appendSet("refresh_token", *upd.RefreshToken)
	}
	if upd.ExpiresIn != nil {
		appendSet("expires_in", *upd.ExpiresIn)
	}
	if upd.ExpiresAt != nil {
		appendSet("expires_at", *upd.ExpiresAt)
	}
	if upd.Scope != nil {
		scope, err := encodeJSON(upd.Scope)
		if err != nil {
			return false, fmt.Errorf("encode scope: %w", err)
		}
		appendSet("scope", scope)
	}
	if upd.Metadata != nil {
		metadata, err := encodeJSON(upd.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode metadata: %w", err)
		}
		appendSet("metadata", metadata)
	}
	if upd.IsActive != nil {
		appendSet("is_active", *upd.IsActive)
	}

	query := fmt.Sprintf("UPDATE bitrix24_tokens SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bitrix24_tokens WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresTokenRepo) AllForUser(ctx context.Context, userID int64) ([]domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for user: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (r *PostgresTokenRepo) ListExpired(ctx context.Context) ([]domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens
WHERE is_active AND expires_at IS NOT NULL AND expires_at < now()
ORDER BY expires_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (r *PostgresTokenRepo) ListExpiringSoon(ctx context.Context, window time.Duration) ([]domain.Token, error) {
	if window <= 0 {
		window = domain.ExpiringSoonWindow
	}
	query := `SELECT ` + tokenColumns + ` FROM bitrix24_tokens
WHERE is_active AND expires_at IS NOT NULL AND expires_at > now() AND expires_at < now() + $1
ORDER BY expires_at`
	rows, err := r.db.Query(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("list expiring tokens: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func (r *PostgresTokenRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	active := false
	return r.Update(ctx, id, TokenUpdate{IsActive: &active})
}

func (r *PostgresTokenRepo) Activate(ctx context.Context, id int64) (bool, error) {
	active := true
	return r.Update(ctx, id, TokenUpdate{IsActive: &active})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.Token, error) {
	var (
		token    domain.Token
		scope    []byte
		metadata []byte
	)
	if err := row.Scan(
		&token.ID,
		&token.Connection,
		&token.UserID,
		&token.Domain,
		&token.AccessToken,
		&token.RefreshToken,
		&token.ExpiresIn,
		&token.ExpiresAt,
		&scope,
		&metadata,
		&token.IsActive,
		&token.CreatedAt,
		&token.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(scope) > 0 {
		_ = json.Unmarshal(scope, &token.Scope)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &token.Metadata)
	}
	return &token, nil
}

func collectTokens(rows pgx.Rows) ([]domain.Token, error) {
	var tokens []domain.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

func encodeJSON(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}
