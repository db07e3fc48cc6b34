package models

import (
	"database/sql"
	"time"
)

// Channel is one delivery medium for customer-facing messages.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelSMS || c == ChannelEmail
}

// Direction distinguishes sends from received messages.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MessageStatus is the delivery state of one message attempt.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// CanTransitionTo reports whether the status ladder allows moving to next.
// Provider callbacks only ever move a message forward; a failed message
// re-enters the ladder at pending through the retry path.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	order := map[MessageStatus]int{
		MessageStatusPending:   0,
		MessageStatusQueued:    1,
		MessageStatusSent:      2,
		MessageStatusDelivered: 3,
		MessageStatusRead:      4,
	}
	if next == MessageStatusFailed {
		return s != MessageStatusFailed
	}
	cur, ok := order[s]
	if !ok {
		// failed -> pending is the retry re-entry point
		return next == MessageStatusPending
	}
	nxt, ok := order[next]
	return ok && nxt > cur
}

// Message is one attempted delivery of content to one recipient over one
// channel. Manual messages are not booking-bound, hence the nullable
// booking reference. Messages are never deleted.
type Message struct {
	ID           int64          `db:"id" json:"id"`
	BookingID    sql.NullInt64  `db:"booking_id" json:"booking_id,omitempty"`
	Channel      Channel        `db:"channel" json:"channel"`
	Direction    Direction      `db:"direction" json:"direction"`
	ProviderID   sql.NullString `db:"provider_id" json:"provider_id,omitempty"`
	Recipient    string         `db:"recipient" json:"recipient"`
	Content      string         `db:"content" json:"content"`
	Subject      sql.NullString `db:"subject" json:"subject,omitempty"`
	TemplateName sql.NullString `db:"template_name" json:"template_name,omitempty"`
	TemplateVars sql.NullString `db:"template_vars" json:"template_vars,omitempty"`
	Status       MessageStatus  `db:"status" json:"status"`
	Error        sql.NullString `db:"error" json:"error,omitempty"`
	RetryCount   int            `db:"retry_count" json:"retry_count"`
	QueuedAt     sql.NullTime   `db:"queued_at" json:"queued_at,omitempty"`
	SentAt       sql.NullTime   `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt  sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt       sql.NullTime   `db:"read_at" json:"read_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Retryable reports whether the message may be retried: only failed
// messages below the retry ceiling qualify.
func (m *Message) Retryable(maxRetries int) bool {
	return m.Status == MessageStatusFailed && m.RetryCount < maxRetries
}
