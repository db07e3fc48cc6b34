package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

const conversationColumns = `id, phone_number, channel, booking_id, status,
	last_message_at, last_inbound_at, unread_count, created_at, updated_at`

type conversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepository{
		db: db,
	}
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns)

	var c models.Conversation
	err := r.db.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &c, nil
}

func (r *conversationRepository) GetByPhoneAndChannel(ctx context.Context, phone string, ch models.Channel) (*models.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE phone_number = $1 AND channel = $2`, conversationColumns)

	var c models.Conversation
	err := r.db.GetContext(ctx, &c, query, phone, ch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by phone: %w", err)
	}

	return &c, nil
}

// Create inserts a conversation. The (phone_number, channel) pair is
// unique; concurrent first-message races fall back to the existing row.
func (r *conversationRepository) Create(ctx context.Context, c *models.Conversation) (int64, error) {
	query := `
		INSERT INTO conversations (phone_number, channel, booking_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (phone_number, channel) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	status := c.Status
	if status == "" {
		status = models.ConversationStatusActive
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query, c.PhoneNumber, c.Channel, c.BookingID, status, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	return id, nil
}

func (r *conversationRepository) List(ctx context.Context, status *models.ConversationStatus, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM conversations`, conversationColumns)
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, *status)
	}
	query += fmt.Sprintf(" ORDER BY last_message_at DESC NULLS LAST LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var conversations []*models.Conversation
	if err := r.db.SelectContext(ctx, &conversations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return conversations, nil
}

func (r *conversationRepository) LinkBooking(ctx context.Context, id, bookingID int64) error {
	query := `
		UPDATE conversations
		SET booking_id = $2, updated_at = $3
		WHERE id = $1 AND booking_id IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, id, bookingID, time.Now()); err != nil {
		return fmt.Errorf("failed to link booking to conversation: %w", err)
	}

	return nil
}

func (r *conversationRepository) RecordInbound(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE conversations
		SET unread_count = unread_count + 1,
		    last_message_at = $2,
		    last_inbound_at = $2,
		    status = $3,
		    updated_at = $4
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, at, models.ConversationStatusActive, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record inbound activity: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *conversationRepository) RecordOutbound(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = $2, updated_at = $3
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, at, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record outbound activity: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *conversationRepository) MarkRead(ctx context.Context, id int64) error {
	query := `
		UPDATE conversations
		SET unread_count = 0, updated_at = $2
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *conversationRepository) SetStatus(ctx context.Context, id int64, status models.ConversationStatus) error {
	query := `
		UPDATE conversations
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set conversation status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}
