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

const webhookLogColumns = `id, event_type, bokun_booking_id, payload, headers, status,
	error, retry_count, processed_at, created_at, updated_at`

type webhookLogRepository struct {
	db *sqlx.DB
}

func NewWebhookLogRepository(db *sqlx.DB) WebhookLogRepository {
	return &webhookLogRepository{
		db: db,
	}
}

func (r *webhookLogRepository) Create(ctx context.Context, l *models.WebhookLog) (int64, error) {
	query := `
		INSERT INTO webhook_logs (event_type, bokun_booking_id, payload, headers, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		l.EventType, l.BokunBookingID, l.Payload, l.Headers,
		models.WebhookStatusPending, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook log: %w", err)
	}

	return id, nil
}

func (r *webhookLogRepository) GetByID(ctx context.Context, id int64) (*models.WebhookLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_logs WHERE id = $1`, webhookLogColumns)

	var l models.WebhookLog
	err := r.db.GetContext(ctx, &l, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook log: %w", err)
	}

	return &l, nil
}

func (r *webhookLogRepository) List(ctx context.Context, status *models.WebhookStatus, limit, offset int) ([]*models.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM webhook_logs`, webhookLogColumns)
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, *status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var logs []*models.WebhookLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}

	return logs, nil
}

func (r *webhookLogRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE webhook_logs
		SET status = $2, error = NULL, processed_at = $3, updated_at = $3
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, models.WebhookStatusProcessed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed records the error and bumps the retry counter. A permanent
// failure (malformed payload, missing required field) is pinned at the
// retry ceiling: retrying unchanged input cannot succeed.
func (r *webhookLogRepository) MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool, maxRetries int) error {
	query := `
		UPDATE webhook_logs
		SET status = $2,
		    error = $3,
		    retry_count = CASE WHEN $4 THEN GREATEST(retry_count + 1, $5) ELSE retry_count + 1 END,
		    updated_at = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, models.WebhookStatusFailed, errMsg, permanent, maxRetries, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark webhook failed: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// Reset moves a failed record back to pending ahead of a retry. The error
// message is cleared but the retry count is preserved.
func (r *webhookLogRepository) Reset(ctx context.Context, id int64) error {
	query := `
		UPDATE webhook_logs
		SET status = $2, error = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query, id, models.WebhookStatusPending, time.Now(), models.WebhookStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reset webhook log: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *webhookLogRepository) GetRetryable(ctx context.Context, maxRetries, limit int) ([]*models.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM webhook_logs
		WHERE status = $1 AND retry_count < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, webhookLogColumns)

	var logs []*models.WebhookLog
	if err := r.db.SelectContext(ctx, &logs, query, models.WebhookStatusFailed, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to get retryable webhooks: %w", err)
	}

	return logs, nil
}

func (r *webhookLogRepository) Stats(ctx context.Context, maxRetries int) (*models.WebhookStats, error) {
	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		       COUNT(*) FILTER (WHERE status = 'processed') AS processed,
		       COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		       COUNT(*) FILTER (WHERE status = 'failed' AND retry_count < $1) AS retryable
		FROM webhook_logs
	`

	var stats models.WebhookStats
	if err := r.db.GetContext(ctx, &stats, query, maxRetries); err != nil {
		return nil, fmt.Errorf("failed to get webhook stats: %w", err)
	}

	return &stats, nil
}

func (r *webhookLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM webhook_logs WHERE created_at < $1 AND status <> $2`

	res, err := r.db.ExecContext(ctx, query, before, models.WebhookStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old webhook logs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}

	return n, nil
}
