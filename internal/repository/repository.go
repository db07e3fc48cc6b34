package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// repositoryImpl is the concrete implementation of Repository interface.
type repositoryImpl struct {
	db           *sqlx.DB
	booking      BookingRepository
	webhookLog   WebhookLogRepository
	message      MessageRepository
	conversation ConversationRepository
	shortLink    ShortLinkRepository
}

// NewRepository creates a new repository instance.
func NewRepository(db *sqlx.DB) Repository {
	return &repositoryImpl{
		db:           db,
		booking:      NewBookingRepository(db),
		webhookLog:   NewWebhookLogRepository(db),
		message:      NewMessageRepository(db),
		conversation: NewConversationRepository(db),
		shortLink:    NewShortLinkRepository(db),
	}
}

func (r *repositoryImpl) Booking() BookingRepository {
	return r.booking
}

func (r *repositoryImpl) WebhookLog() WebhookLogRepository {
	return r.webhookLog
}

func (r *repositoryImpl) Message() MessageRepository {
	return r.message
}

func (r *repositoryImpl) Conversation() ConversationRepository {
	return r.conversation
}

func (r *repositoryImpl) ShortLink() ShortLinkRepository {
	return r.shortLink
}

// Ping checks if the database connection is healthy.
func (r *repositoryImpl) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}
