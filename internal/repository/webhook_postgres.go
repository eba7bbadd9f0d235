package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

var _ WebhookRepository = (*PostgresWebhookRepo)(nil)

// PostgresWebhookRepo implements WebhookRepository on pgx.
type PostgresWebhookRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresWebhookRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresWebhookRepo {
	return &PostgresWebhookRepo{db: pool, node: node}
}

const webhookColumns = `id, event, handler, domain, payload, status, error_message, attempts, processed_at, created_at, updated_at`

func (r *PostgresWebhookRepo) Find(ctx context.Context, id int64) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM bitrix24_webhooks WHERE id = $1`
	webhook, err := scanWebhook(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find webhook: %w", err)
	}
	return webhook, nil
}

const insertWebhookSQL = `INSERT INTO bitrix24_webhooks (id, event, handler, domain, payload, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + webhookColumns

func (r *PostgresWebhookRepo) Create(ctx context.Context, webhook domain.Webhook) (*domain.Webhook, error) {
	payload, err := encodeJSON(webhook.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	status := webhook.Status
	if status == "" {
		status = domain.WebhookStatusPending
	}
	created, err := scanWebhook(r.db.QueryRow(ctx, insertWebhookSQL,
		r.node.Generate().Int64(),
		webhook.Event,
		webhook.Handler,
		webhook.Domain,
		payload,
		status,
	))
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return created, nil
}

func (r *PostgresWebhookRepo) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bitrix24_webhooks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete webhook: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresWebhookRepo) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE bitrix24_webhooks
SET status = $2, attempts = attempts + 1, updated_at = now()
WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, domain.WebhookStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark webhook processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresWebhookRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE bitrix24_webhooks
SET status = $2, error_message = NULL, processed_at = now(), updated_at = now()
WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, domain.WebhookStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("mark webhook completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresWebhookRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	query := `UPDATE bitrix24_webhooks
SET status = $2, error_message = $3, processed_at = now(), updated_at = now()
WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, domain.WebhookStatusFailed, errorMessage)
	if err != nil {
		return false, fmt.Errorf("mark webhook failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresWebhookRepo) Pending(ctx context.Context, limit int) ([]domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM bitrix24_webhooks
WHERE status = $1 ORDER BY created_at LIMIT $2`
	return r.list(ctx, query, domain.WebhookStatusPending, normalizeLimit(limit))
}

func (r *PostgresWebhookRepo) Failed(ctx context.Context, limit int) ([]domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM bitrix24_webhooks
WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, domain.WebhookStatusFailed, normalizeLimit(limit))
}

func (r *PostgresWebhookRepo) ByEvent(ctx context.Context, event string, limit int) ([]domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM bitrix24_webhooks
WHERE event = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, event, normalizeLimit(limit))
}

func (r *PostgresWebhookRepo) list(ctx context.Context, query string, args ...any) ([]domain.Webhook, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []domain.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, *webhook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var (
		webhook  domain.Webhook
		payload  []byte
		errorMsg *string
	)
	if err := row.Scan(
		&webhook.ID,
		&webhook.Event,
		&webhook.Handler,
		&webhook.Domain,
		&payload,
		&webhook.Status,
		&errorMsg,
		&webhook.Attempts,
		&webhook.ProcessedAt,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if errorMsg != nil {
		webhook.ErrorMessage = *errorMsg
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &webhook.Payload)
	}
	return &webhook, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
