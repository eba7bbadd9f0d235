package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bitrix24_tokens (
	id BIGINT PRIMARY KEY,
	connection VARCHAR(255) NOT NULL DEFAULT 'main',
	user_id BIGINT,
	domain VARCHAR(255) NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_in BIGINT NOT NULL DEFAULT 3600,
	expires_at TIMESTAMPTZ,
	scope JSONB,
	metadata JSONB,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bitrix24_tokens_identity
	ON bitrix24_tokens (connection, COALESCE(user_id, 0), domain);
CREATE INDEX IF NOT EXISTS idx_bitrix24_tokens_connection ON bitrix24_tokens (connection);
CREATE INDEX IF NOT EXISTS idx_bitrix24_tokens_domain ON bitrix24_tokens (domain);
CREATE INDEX IF NOT EXISTS idx_bitrix24_tokens_expires_at ON bitrix24_tokens (expires_at);
CREATE INDEX IF NOT EXISTS idx_bitrix24_tokens_is_active ON bitrix24_tokens (is_active);

CREATE TABLE IF NOT EXISTS bitrix24_webhooks (
	id BIGINT PRIMARY KEY,
	event VARCHAR(255) NOT NULL,
	handler VARCHAR(255) NOT NULL,
	domain VARCHAR(255) NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	status VARCHAR(32) NOT NULL DEFAULT 'pending',
	error_message TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bitrix24_webhooks_event ON bitrix24_webhooks (event);
CREATE INDEX IF NOT EXISTS idx_bitrix24_webhooks_domain ON bitrix24_webhooks (domain);
CREATE INDEX IF NOT EXISTS idx_bitrix24_webhooks_status ON bitrix24_webhooks (status);
CREATE INDEX IF NOT EXISTS idx_bitrix24_webhooks_status_created ON bitrix24_webhooks (status, created_at);
`

// EnsureSchema creates the token and webhook tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
