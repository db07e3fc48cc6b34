package models

import (
	"database/sql"
	"time"
)

// ConversationStatus is the operator-facing state of a thread.
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"
)

// Conversation is the thread of messages with one phone number on one
// channel. At most one conversation exists per (phone number, channel).
type Conversation struct {
	ID            int64              `db:"id" json:"id"`
	PhoneNumber   string             `db:"phone_number" json:"phone_number"`
	Channel       Channel            `db:"channel" json:"channel"`
	BookingID     sql.NullInt64      `db:"booking_id" json:"booking_id,omitempty"`
	Status        ConversationStatus `db:"status" json:"status"`
	LastMessageAt sql.NullTime       `db:"last_message_at" json:"last_message_at,omitempty"`
	LastInboundAt sql.NullTime       `db:"last_inbound_at" json:"last_inbound_at,omitempty"`
	UnreadCount   int                `db:"unread_count" json:"unread_count"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// messagingWindow is how long after the last inbound message a rich
// session message may still be sent on session-based channels.
const messagingWindow = 24 * time.Hour

// WindowOpen reports whether the 24-hour reply window is still open. The
// window is derived from the most recent inbound message, never stored.
func (c *Conversation) WindowOpen(now time.Time) bool {
	if c.Channel != ChannelWhatsApp {
		return false
	}
	return c.LastInboundAt.Valid && now.Sub(c.LastInboundAt.Time) < messagingWindow
}
