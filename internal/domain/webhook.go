package domain

import "time"

// Webhook processing statuses.
const (
	WebhookStatusPending    = "pending"
	WebhookStatusProcessing = "processing"
	WebhookStatusCompleted  = "completed"
	WebhookStatusFailed     = "failed"
)

// Webhook is one inbound Bitrix24 event recorded for processing. The ledger
// is append-then-update: rows are created pending and move through
// processing to completed or failed, keeping an attempt counter.
type Webhook struct {
	ID           int64          `json:"id"`
	Event        string         `json:"event"`
	Handler      string         `json:"handler"`
	Domain       string         `json:"domain"`
	Payload      map[string]any `json:"payload"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	ProcessedAt  *time.Time     `json:"processed_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
