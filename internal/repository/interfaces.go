package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository interface defines all repository operations.
type Repository interface {
	// Ping checks database connectivity
	Ping() error

	Booking() BookingRepository
	WebhookLog() WebhookLogRepository
	Message() MessageRepository
	Conversation() ConversationRepository
	ShortLink() ShortLinkRepository
}

// BookingFilter narrows booking listings. Cancelled bookings are excluded
// unless IncludeCancelled is set.
type BookingFilter struct {
	Status           *models.BookingStatus
	ProductID        int64
	IncludeCancelled bool
	From             *time.Time
	To               *time.Time
	Limit            int
	Offset           int
}

// BookingUpsert is the merge payload shared by the webhook processor and
// the reconciliation engine. Upserts are keyed by the Bokun confirmation
// code and must never blind-overwrite enrichment data.
type BookingUpsert struct {
	BokunBookingID string
	ProductID      int64
	ProductName    string
	CustomerName   string
	TourDate       time.Time
	Pax            int
}

// BookingEnrichment carries backfilled detail for a known booking.
// Participants must be non-nil: an empty slice records "asked, nobody
// listed" so the booking is not re-fetched forever.
type BookingEnrichment struct {
	Participants  []models.Participant
	Channel       string
	Email         string
	Phone         string
	HasAudioGuide bool
}

// BookingRepository provides authoritative local booking records.
type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	GetByBokunID(ctx context.Context, bokunBookingID string) (*models.Booking, error)
	List(ctx context.Context, filter BookingFilter) ([]*models.Booking, error)
	Create(ctx context.Context, b *models.Booking) (int64, error)
	Update(ctx context.Context, b *models.Booking) error
	// Upsert merges by confirmation code and reports whether a new row was
	// created. Pax of zero from the upstream never clobbers a known count.
	Upsert(ctx context.Context, u *BookingUpsert) (created bool, err error)
	// SaveEnrichment backfills detail fields. A non-empty participant list
	// already on the row is never regressed to empty.
	SaveEnrichment(ctx context.Context, bokunBookingID string, e *BookingEnrichment) error
	// Cancel soft-deletes by confirmation code; false means no such booking.
	Cancel(ctx context.Context, bokunBookingID string, at time.Time) (bool, error)
	ActiveFutureCodes(ctx context.Context, from time.Time) ([]string, error)
	NeedingEnrichment(ctx context.Context, limit int) ([]*models.Booking, error)
	// MarkTicketSent sets the ticket-sent timestamp exactly once; false
	// means it was already set.
	MarkTicketSent(ctx context.Context, id int64, at time.Time) (bool, error)
	SetTicketPurchased(ctx context.Context, id int64, reference string) error
	FindByPhone(ctx context.Context, phone string) (*models.Booking, error)
	PurgeCancelledBefore(ctx context.Context, before time.Time) (int64, error)
}

// WebhookLogRepository is the durable log of inbound webhooks.
type WebhookLogRepository interface {
	Create(ctx context.Context, l *models.WebhookLog) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.WebhookLog, error)
	List(ctx context.Context, status *models.WebhookStatus, limit, offset int) ([]*models.WebhookLog, error)
	MarkProcessed(ctx context.Context, id int64) error
	// MarkFailed records the error and bumps the retry counter. Permanent
	// failures are pinned at the retry ceiling so they are never reselected.
	MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool, maxRetries int) error
	// Reset moves failed back to pending, clearing the error but keeping
	// the retry count.
	Reset(ctx context.Context, id int64) error
	GetRetryable(ctx context.Context, maxRetries, limit int) ([]*models.WebhookLog, error)
	Stats(ctx context.Context, maxRetries int) (*models.WebhookStats, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// MessageFilter narrows message history queries.
type MessageFilter struct {
	Channel   *models.Channel
	Status    *models.MessageStatus
	Direction *models.Direction
	Limit     int
	Offset    int
}

// MessageRepository records every delivery attempt. Messages are an audit
// trail and are never deleted.
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	List(ctx context.Context, filter MessageFilter) ([]*models.Message, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]*models.Message, error)
	MarkSent(ctx context.Context, id int64, providerID string) error
	// MarkFailed records the error and increments the retry counter.
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	UpdateStatusByProviderID(ctx context.Context, providerID string, status models.MessageStatus, at time.Time) error
	GetRetryable(ctx context.Context, channel *models.Channel, maxRetries, limit int) ([]*models.Message, error)
}

// ConversationRepository groups messages per (phone number, channel).
type ConversationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetByPhoneAndChannel(ctx context.Context, phone string, ch models.Channel) (*models.Conversation, error)
	Create(ctx context.Context, c *models.Conversation) (int64, error)
	List(ctx context.Context, status *models.ConversationStatus, limit, offset int) ([]*models.Conversation, error)
	LinkBooking(ctx context.Context, id, bookingID int64) error
	RecordInbound(ctx context.Context, id int64, at time.Time) error
	RecordOutbound(ctx context.Context, id int64, at time.Time) error
	MarkRead(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status models.ConversationStatus) error
}

// ShortLinkRepository maps download tokens to stored documents.
type ShortLinkRepository interface {
	Create(ctx context.Context, l *models.ShortLink) (int64, error)
	GetByToken(ctx context.Context, token string) (*models.ShortLink, error)
	List(ctx context.Context, limit, offset int) ([]*models.ShortLink, error)
	IncrementDownloads(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
