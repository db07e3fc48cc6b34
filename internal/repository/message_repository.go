package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

const messageColumns = `id, booking_id, channel, direction, provider_id, recipient, content,
	subject, template_name, template_vars, status, error, retry_count,
	queued_at, sent_at, delivered_at, read_at, created_at, updated_at`

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) Create(ctx context.Context, m *models.Message) (int64, error) {
	query := `
		INSERT INTO messages (booking_id, channel, direction, provider_id, recipient, content,
			subject, template_name, template_vars, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id
	`

	status := m.Status
	if status == "" {
		status = models.MessageStatusPending
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		m.BookingID, m.Channel, m.Direction, m.ProviderID, m.Recipient, m.Content,
		m.Subject, m.TemplateName, m.TemplateVars, status, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create message: %w", err)
	}

	return id, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)

	var m models.Message
	err := r.db.GetContext(ctx, &m, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &m, nil
}

func (r *messageRepository) List(ctx context.Context, filter MessageFilter) ([]*models.Message, error) {
	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Channel != nil {
		conds = append(conds, "channel = "+arg(*filter.Channel))
	}
	if filter.Status != nil {
		conds = append(conds, "status = "+arg(*filter.Status))
	}
	if filter.Direction != nil {
		conds = append(conds, "direction = "+arg(*filter.Direction))
	}

	query := fmt.Sprintf(`SELECT %s FROM messages`, messageColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	var messages []*models.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

func (r *messageRepository) ListByBooking(ctx context.Context, bookingID int64) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`, messageColumns)

	var messages []*models.Message
	if err := r.db.SelectContext(ctx, &messages, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list messages for booking: %w", err)
	}

	return messages, nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id int64, providerID string) error {
	query := `
		UPDATE messages
		SET status = $2, provider_id = $3, error = NULL, sent_at = $4, updated_at = $4
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, models.MessageStatusSent, providerID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed records the rejection and increments the retry counter. The
// counter is monotonically non-decreasing; gating against the cap happens
// in the service layer before another attempt is made.
func (r *messageRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE messages
		SET status = $2, error = $3, retry_count = retry_count + 1, updated_at = $4
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, models.MessageStatusFailed, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateStatusByProviderID applies a delivery-provider status callback.
// The status ladder only moves forward, so a late "sent" callback cannot
// demote a message already marked delivered.
func (r *messageRepository) UpdateStatusByProviderID(ctx context.Context, providerID string, status models.MessageStatus, at time.Time) error {
	// A provider-reported failure is not part of the forward ladder: it
	// moves the message to failed from any non-terminal state so the retry
	// path can pick it up.
	if status == models.MessageStatusFailed {
		query := `
			UPDATE messages
			SET status = $2, error = COALESCE(error, 'reported failed by provider'), updated_at = $3
			WHERE provider_id = $1 AND status <> $2
		`
		if _, err := r.db.ExecContext(ctx, query, providerID, status, at); err != nil {
			return fmt.Errorf("failed to update message status from callback: %w", err)
		}
		return nil
	}

	var tsColumn string
	switch status {
	case models.MessageStatusQueued:
		tsColumn = "queued_at"
	case models.MessageStatusSent:
		tsColumn = "sent_at"
	case models.MessageStatusDelivered:
		tsColumn = "delivered_at"
	case models.MessageStatusRead:
		tsColumn = "read_at"
	default:
		return fmt.Errorf("unsupported callback status: %s", status)
	}

	query := fmt.Sprintf(`
		UPDATE messages
		SET status = $2, %s = $3, updated_at = $4
		WHERE provider_id = $1
		  AND CASE status
		        WHEN 'pending' THEN 0
		        WHEN 'queued' THEN 1
		        WHEN 'sent' THEN 2
		        WHEN 'delivered' THEN 3
		        WHEN 'read' THEN 4
		        ELSE 5
		      END < CASE $2
		        WHEN 'queued' THEN 1
		        WHEN 'sent' THEN 2
		        WHEN 'delivered' THEN 3
		        WHEN 'read' THEN 4
		        ELSE 0
		      END
	`, tsColumn)

	if _, err := r.db.ExecContext(ctx, query, providerID, status, at, time.Now()); err != nil {
		return fmt.Errorf("failed to update message status from callback: %w", err)
	}

	return nil
}

func (r *messageRepository) GetRetryable(ctx context.Context, channel *models.Channel, maxRetries, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE status = $1 AND retry_count < $2 AND direction = $3
	`, messageColumns)
	args := []interface{}{models.MessageStatusFailed, maxRetries, models.DirectionOutbound}

	if channel != nil {
		query += fmt.Sprintf(" AND channel = $%d", len(args)+1)
		args = append(args, *channel)
	}

	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	var messages []*models.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get retryable messages: %w", err)
	}

	return messages, nil
}
