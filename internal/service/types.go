package service

import (
	"time"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/provider"
)

// ProcessOutcome summarizes one processed webhook payload.
type ProcessOutcome struct {
	// Count is the number of eligible sub-bookings upserted.
	Count int `json:"count"`
	// Cancelled is the number of bookings soft-deleted by this payload.
	Cancelled int `json:"cancelled"`
	// Ignored is the number of sub-bookings skipped as ineligible products.
	Ignored int `json:"ignored"`
}

// RetryResult is the outcome of one retried record.
type RetryResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// RetrySummary reports a batch retry pass.
type RetrySummary struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []RetryResult `json:"results,omitempty"`
}

// SyncSummary reports one reconciliation run.
type SyncSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	Upserted  int           `json:"upserted"`
	Created   int           `json:"created"`
	Ignored   int           `json:"ignored"`
	Cancelled int           `json:"cancelled"`
	Enriched  int           `json:"enriched"`
	Warnings  []string      `json:"warnings,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
}

// SendOutcome classifies a multi-channel send.
type SendOutcome string

const (
	// SendOutcomeFull means every planned channel succeeded.
	SendOutcomeFull SendOutcome = "full"
	// SendOutcomePartial means at least one channel succeeded.
	SendOutcomePartial SendOutcome = "partial"
	// SendOutcomeFailed means no channel got the message out.
	SendOutcomeFailed SendOutcome = "failed"
)

// ChannelPlan is one channel chosen for a delivery, in send order.
type ChannelPlan struct {
	Channel models.Channel `json:"channel"`
	// NotificationOnly channels carry a pointer to the ticket rather than
	// the ticket itself.
	NotificationOnly bool `json:"notification_only"`
}

// ChannelResult is the outcome of one channel attempt within a send.
type ChannelResult struct {
	Channel          models.Channel `json:"channel"`
	MessageID        int64          `json:"message_id"`
	ProviderID       string         `json:"provider_id,omitempty"`
	NotificationOnly bool           `json:"notification_only,omitempty"`
	OK               bool           `json:"ok"`
	Error            string         `json:"error,omitempty"`
}

// SendReport is the overall result of a ticket or manual send.
type SendReport struct {
	Outcome SendOutcome     `json:"outcome"`
	Results []ChannelResult `json:"results"`
	// FirstDelivery is true when this send set the booking's ticket-sent
	// timestamp; follow-up side effects fire only on the first delivery.
	FirstDelivery bool `json:"first_delivery"`
}

// TicketContent is the rendered material to deliver for a booking.
type TicketContent struct {
	Subject      string
	Body         string
	DocumentURL  string
	DocumentName string
	// SMSNotice is the short notification-only text; falls back to Body
	// when empty.
	SMSNotice   string
	Attachments []provider.Attachment
}

// ManualSend is an operator-initiated single-channel message. When
// Template is set, the body is rendered from the catalog and Body may be
// left empty.
type ManualSend struct {
	BookingID    int64             `json:"booking_id,omitempty"`
	Recipient    string            `json:"recipient"`
	Channel      models.Channel    `json:"channel"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body,omitempty"`
	Template     string            `json:"template,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

// InboundMessage is a customer reply relayed by a provider callback.
type InboundMessage struct {
	From       string
	Channel    models.Channel
	Content    string
	ProviderID string
	At         time.Time
}

// HealthStatus describes service health for monitoring endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Redis     string            `json:"redis"`
	Scheduler string            `json:"scheduler"`
	Breakers  map[string]string `json:"breakers"`
}
