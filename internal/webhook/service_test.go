package webhook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
	"github.com/sliva-name/bitrix24-bridge/internal/repository"
	"github.com/sliva-name/bitrix24-bridge/internal/webhook"
)

func TestReceiveWithoutHandlerStaysPending(t *testing.T) {
	repo := &memoryWebhookRepo{}
	svc := webhook.NewService(repo, config.Config{}, zap.NewNop())

	row, err := svc.Receive(context.Background(), "oncrmleadadd", "portal.bitrix24.test", map[string]any{"event": "ONCRMLEADADD"})
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusPending, row.Status)
	require.Equal(t, "ONCRMLEADADD", row.Event)
	require.Equal(t, "portal.bitrix24.test", row.Domain)
}

func TestReceiveDispatchesRegisteredHandler(t *testing.T) {
	repo := &memoryWebhookRepo{}
	svc := webhook.NewService(repo, config.Config{}, zap.NewNop())

	var handled domain.Webhook
	svc.Register("ONCRMLEADADD", func(ctx context.Context, event domain.Webhook) error {
		handled = event
		return nil
	})

	row, err := svc.Receive(context.Background(), "ONCRMLEADADD", "portal", map[string]any{"event": "ONCRMLEADADD"})
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusCompleted, row.Status)
	require.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.ProcessedAt)
	require.Equal(t, "ONCRMLEADADD", handled.Event)
}

func TestHandlerFailureMarksFailedAndRetries(t *testing.T) {
	repo := &memoryWebhookRepo{}
	svc := webhook.NewService(repo, config.Config{}, zap.NewNop())

	fail := true
	svc.Register("ONTASKADD", func(ctx context.Context, event domain.Webhook) error {
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	row, err := svc.Receive(context.Background(), "ONTASKADD", "portal", map[string]any{"event": "ONTASKADD"})
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusFailed, row.Status)
	require.Equal(t, "downstream unavailable", row.ErrorMessage)
	require.Equal(t, 1, row.Attempts)

	failed, err := svc.Failed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	fail = false
	row, err = svc.Retry(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusCompleted, row.Status)
	require.Equal(t, 2, row.Attempts)

	// Completed events cannot be retried again.
	_, err = svc.Retry(context.Background(), row.ID)
	require.Error(t, err)
}

func TestVerifyToken(t *testing.T) {
	svc := webhook.NewService(&memoryWebhookRepo{}, config.Config{WebhookSecret: "secret"}, zap.NewNop())

	require.True(t, svc.VerifyToken(map[string]any{
		"auth": map[string]any{"application_token": "secret"},
	}))
	require.True(t, svc.VerifyToken(map[string]any{"application_token": "secret"}))
	require.False(t, svc.VerifyToken(map[string]any{"application_token": "wrong"}))
	require.False(t, svc.VerifyToken(map[string]any{}))

	// An empty configured secret disables the check.
	open := webhook.NewService(&memoryWebhookRepo{}, config.Config{}, zap.NewNop())
	require.True(t, open.VerifyToken(map[string]any{}))
}

// memoryWebhookRepo is an in-memory WebhookRepository.
type memoryWebhookRepo struct {
	mu     sync.Mutex
	rows   map[int64]*domain.Webhook
	nextID int64
}

var _ repository.WebhookRepository = (*memoryWebhookRepo)(nil)

func (m *memoryWebhookRepo) Find(ctx context.Context, id int64) (*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryWebhookRepo) Create(ctx context.Context, row domain.Webhook) (*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[int64]*domain.Webhook)
	}
	m.nextID++
	row.ID = m.nextID
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	m.rows[row.ID] = &row
	cp := row
	return &cp, nil
}

func (m *memoryWebhookRepo) Delete(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memoryWebhookRepo) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	row.Status = domain.WebhookStatusProcessing
	row.Attempts++
	row.UpdatedAt = time.Now()
	return true, nil
}

func (m *memoryWebhookRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	now := time.Now()
	row.Status = domain.WebhookStatusCompleted
	row.ErrorMessage = ""
	row.ProcessedAt = &now
	row.UpdatedAt = now
	return true, nil
}

func (m *memoryWebhookRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	row.Status = domain.WebhookStatusFailed
	row.ErrorMessage = errorMessage
	row.UpdatedAt = time.Now()
	return true, nil
}

func (m *memoryWebhookRepo) Pending(ctx context.Context, limit int) ([]domain.Webhook, error) {
	return m.byStatus(domain.WebhookStatusPending), nil
}

func (m *memoryWebhookRepo) Failed(ctx context.Context, limit int) ([]domain.Webhook, error) {
	return m.byStatus(domain.WebhookStatusFailed), nil
}

func (m *memoryWebhookRepo) ByEvent(ctx context.Context, event string, limit int) ([]domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Webhook{}
	for _, row := range m.rows {
		if row.Event == event {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memoryWebhookRepo) byStatus(status string) []domain.Webhook {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Webhook{}
	for _, row := range m.rows {
		if row.Status == status {
			out = append(out, *row)
		}
	}
	return out
}
