package models

import (
	"database/sql"
	"time"
)

// WebhookStatus is the processing state of an inbound webhook record.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// CanTransitionTo reports whether the state machine allows moving to next.
// The only way back from failed is an explicit reset to pending.
func (s WebhookStatus) CanTransitionTo(next WebhookStatus) bool {
	switch s {
	case WebhookStatusPending:
		return next == WebhookStatusProcessed || next == WebhookStatusFailed
	case WebhookStatusFailed:
		return next == WebhookStatusPending || next == WebhookStatusFailed
	default:
		return false
	}
}

// WebhookLog is the durable record of one inbound callback. The record is
// written before processing starts so a crash mid-processing leaves a
// recoverable pending row.
type WebhookLog struct {
	ID             int64          `db:"id" json:"id"`
	EventType      string         `db:"event_type" json:"event_type"`
	BokunBookingID sql.NullString `db:"bokun_booking_id" json:"bokun_booking_id,omitempty"`
	Payload        string         `db:"payload" json:"payload"`
	Headers        string         `db:"headers" json:"headers"`
	Status         WebhookStatus  `db:"status" json:"status"`
	Error          sql.NullString `db:"error" json:"error,omitempty"`
	RetryCount     int            `db:"retry_count" json:"retry_count"`
	ProcessedAt    sql.NullTime   `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Retryable reports whether the record may still be retried.
func (l *WebhookLog) Retryable(maxRetries int) bool {
	return l.Status == WebhookStatusFailed && l.RetryCount < maxRetries
}

// WebhookStats is an aggregate snapshot of the webhook log.
type WebhookStats struct {
	Total     int64 `db:"total" json:"total"`
	Pending   int64 `db:"pending" json:"pending"`
	Processed int64 `db:"processed" json:"processed"`
	Failed    int64 `db:"failed" json:"failed"`
	Retryable int64 `db:"retryable" json:"retryable"`
}
