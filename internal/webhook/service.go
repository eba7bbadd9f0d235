package webhook

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
	"github.com/sliva-name/bitrix24-bridge/internal/repository"
)

// Handler processes one recorded event. Returning an error marks the row
// failed with the error message kept for later inspection.
type Handler func(ctx context.Context, event domain.Webhook) error

// Service records inbound Bitrix24 events in the ledger and dispatches them
// to registered handlers.
type Service struct {
	repo     repository.WebhookRepository
	cfg      config.Config
	logger   *zap.Logger
	handlers map[string]Handler
}

// NewService wires the webhook service.
func NewService(repo repository.WebhookRepository, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to an event name. Event names are matched
// case-insensitively, as Bitrix24 sends them uppercased.
func (s *Service) Register(event string, handler Handler) {
	s.handlers[strings.ToUpper(event)] = handler
}

// VerifyToken checks the payload's application token against the configured
// secret. An empty configured secret disables the check.
func (s *Service) VerifyToken(payload map[string]any) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	got, _ := extractApplicationToken(payload)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) == 1
}

// Receive records the event and immediately attempts to process it. The row
// survives regardless of processing outcome, so failed events can be
// retried.
func (s *Service) Receive(ctx context.Context, event, portalDomain string, payload map[string]any) (*domain.Webhook, error) {
	event = strings.ToUpper(event)

	handlerName := ""
	if _, ok := s.handlers[event]; ok {
		handlerName = event
	}

	row, err := s.repo.Create(ctx, domain.Webhook{
		Event:   event,
		Handler: handlerName,
		Domain:  portalDomain,
		Payload: payload,
		Status:  domain.WebhookStatusPending,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("webhook event recorded",
		zap.Int64("webhook_id", row.ID),
		zap.String("event", event),
		zap.String("domain", portalDomain),
	)

	return s.process(ctx, row)
}

// Retry reprocesses a previously failed event.
func (s *Service) Retry(ctx context.Context, id int64) (*domain.Webhook, error) {
	row, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("webhook %d not found", id)
	}
	if row.Status != domain.WebhookStatusFailed && row.Status != domain.WebhookStatusPending {
		return nil, fmt.Errorf("webhook %d is %s, only pending or failed events can be retried", id, row.Status)
	}
	return s.process(ctx, row)
}

func (s *Service) process(ctx context.Context, row *domain.Webhook) (*domain.Webhook, error) {
	handler, ok := s.handlers[row.Event]
	if !ok {
		// No handler registered: the row stays pending for later pickup.
		return row, nil
	}

	if _, err := s.repo.MarkProcessing(ctx, row.ID); err != nil {
		return nil, err
	}

	if err := handler(ctx, *row); err != nil {
		if _, markErr := s.repo.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			s.logger.Error("mark webhook failed", zap.Int64("webhook_id", row.ID), zap.Error(markErr))
		}
		s.logger.Warn("webhook handler failed",
			zap.Int64("webhook_id", row.ID),
			zap.String("event", row.Event),
			zap.Error(err),
		)
		return s.repo.Find(ctx, row.ID)
	}

	if _, err := s.repo.MarkCompleted(ctx, row.ID); err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, row.ID)
}

// Pending lists events not yet completed, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]domain.Webhook, error) {
	return s.repo.Pending(ctx, limit)
}

// Failed lists failed events, newest first.
func (s *Service) Failed(ctx context.Context, limit int) ([]domain.Webhook, error) {
	return s.repo.Failed(ctx, limit)
}

// ByEvent lists the ledger for one event name.
func (s *Service) ByEvent(ctx context.Context, event string, limit int) ([]domain.Webhook, error) {
	return s.repo.ByEvent(ctx, strings.ToUpper(event), limit)
}

// Delete removes a ledger row.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.repo.Delete(ctx, id)
}

func extractApplicationToken(payload map[string]any) (string, bool) {
	if auth, ok := payload["auth"].(map[string]any); ok {
		if tok, ok := auth["application_token"].(string); ok {
			return tok, true
		}
	}
	if tok, ok := payload["application_token"].(string); ok {
		return tok, true
	}
	return "", false
}
