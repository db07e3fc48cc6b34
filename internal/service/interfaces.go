package service

import (
	"context"
	"net/http"
	"time"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

// Service aggregates all business logic services.
type Service interface {
	Booking() BookingService
	Webhook() WebhookService
	Sync() SyncService
	Delivery() DeliveryService
	Conversation() ConversationService
	ShortLink() ShortLinkService
	Health() HealthService
}

// BookingService owns the authoritative booking records.
type BookingService interface {
	Get(ctx context.Context, id int64) (*models.Booking, error)
	GetByBokunID(ctx context.Context, bokunBookingID string) (*models.Booking, error)
	List(ctx context.Context, filter repository.BookingFilter) ([]*models.Booking, error)
	Create(ctx context.Context, b *models.Booking) (int64, error)
	Update(ctx context.Context, b *models.Booking) error
	// ApplyProductBooking merges one upstream sub-booking into the local
	// store. It is the single write path shared by webhook processing and
	// reconciliation. Returns whether a new booking row was created.
	ApplyProductBooking(ctx context.Context, confirmationCode, customerName string, pb *bokun.ProductBooking) (created bool, err error)
	// CancelByCode soft-deletes a booking; false means the code is unknown.
	CancelByCode(ctx context.Context, bokunBookingID string, at time.Time) (bool, error)
	SetTicketPurchased(ctx context.Context, id int64, reference string) error
	PurgeCancelledBefore(ctx context.Context, before time.Time) (int64, error)
}

// WebhookService ingests and re-processes upstream webhook notifications.
type WebhookService interface {
	// Ingest verifies, logs, and processes one webhook delivery. The
	// payload is persisted before processing so a crash never loses it.
	Ingest(ctx context.Context, body []byte, headers http.Header) (*ProcessOutcome, error)
	// Retry re-processes one failed log entry.
	Retry(ctx context.Context, id int64) (*ProcessOutcome, error)
	// RetryAll re-processes every retryable failed entry, oldest first.
	RetryAll(ctx context.Context) (*RetrySummary, error)
	List(ctx context.Context, status *models.WebhookStatus, limit, offset int) ([]*models.WebhookLog, error)
	Stats(ctx context.Context) (*models.WebhookStats, error)
	// Cleanup deletes terminal log entries older than the cutoff.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SyncService reconciles local bookings against the upstream API.
type SyncService interface {
	// Run executes one reconciliation pass: fetch and upsert upcoming
	// bookings, sweep for cancellations, and backfill enrichment detail.
	// A full run lifts the enrichment batch limit. Only one run may be in
	// flight; concurrent calls get ErrSyncInFlight.
	Run(ctx context.Context, full bool) (*SyncSummary, error)
	InFlight() bool
}

// ChannelSelector decides which channels a booking should be contacted on.
type ChannelSelector interface {
	// Plan returns channels in send order. ErrNoDeliveryChannel is
	// returned when the booking has no usable contact point.
	Plan(ctx context.Context, b *models.Booking) ([]ChannelPlan, error)
}

// DeliveryService sends outbound messages and tracks their lifecycle.
type DeliveryService interface {
	// SendTicket delivers rendered ticket content on every planned channel
	// for the booking. Channels are attempted concurrently; one failure
	// does not abort the others.
	SendTicket(ctx context.Context, bookingID int64, content *TicketContent) (*SendReport, error)
	// SendManual sends one operator-composed message on a single channel.
	SendManual(ctx context.Context, req *ManualSend) (*ChannelResult, error)
	// Retry re-attempts one failed message. ErrNotRetryable when the
	// message is not failed or its retry count is at the cap.
	Retry(ctx context.Context, messageID int64) (*ChannelResult, error)
	// RetryAll re-attempts every retryable failed message, optionally
	// restricted to one channel.
	RetryAll(ctx context.Context, channel *models.Channel) (*RetrySummary, error)
	// HandleStatusCallback applies a provider delivery receipt. Status
	// moves forward only; late or duplicate receipts are ignored.
	HandleStatusCallback(ctx context.Context, providerID string, status models.MessageStatus, at time.Time) error
	Get(ctx context.Context, id int64) (*models.Message, error)
	History(ctx context.Context, filter repository.MessageFilter) ([]*models.Message, error)
	HistoryForBooking(ctx context.Context, bookingID int64) ([]*models.Message, error)
	BreakerStates() map[string]string
}

// ConversationService tracks two-way message threads per contact.
type ConversationService interface {
	// RecordInbound files a customer reply into its conversation, creating
	// the conversation and linking it to a booking on first contact.
	RecordInbound(ctx context.Context, in *InboundMessage) (*models.Conversation, error)
	// NoteOutbound updates conversation activity after a successful send.
	NoteOutbound(ctx context.Context, phone string, ch models.Channel, at time.Time) error
	Get(ctx context.Context, id int64) (*models.Conversation, error)
	List(ctx context.Context, status *models.ConversationStatus, limit, offset int) ([]*models.Conversation, error)
	Messages(ctx context.Context, id int64) ([]*models.Message, error)
	MarkRead(ctx context.Context, id int64) error
	Archive(ctx context.Context, id int64) error
	Reactivate(ctx context.Context, id int64) error
}

// ShortLinkService issues and resolves short download links.
type ShortLinkService interface {
	// Create issues a token for a stored document and returns the link
	// record plus the absolute URL.
	Create(ctx context.Context, filePath string) (*models.ShortLink, string, error)
	// Resolve looks up a token, enforces expiry, and counts the download.
	Resolve(ctx context.Context, token string) (*models.ShortLink, error)
	List(ctx context.Context, limit, offset int) ([]*models.ShortLink, error)
	Delete(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// HealthService reports liveness of the service's dependencies.
type HealthService interface {
	GetHealth(ctx context.Context) *HealthStatus
}
