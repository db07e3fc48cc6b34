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

type shortLinkRepository struct {
	db *sqlx.DB
}

func NewShortLinkRepository(db *sqlx.DB) ShortLinkRepository {
	return &shortLinkRepository{
		db: db,
	}
}

func (r *shortLinkRepository) Create(ctx context.Context, l *models.ShortLink) (int64, error) {
	query := `
		INSERT INTO short_links (token, file_path, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, l.Token, l.FilePath, l.ExpiresAt, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create short link: %w", err)
	}

	return id, nil
}

func (r *shortLinkRepository) GetByToken(ctx context.Context, token string) (*models.ShortLink, error) {
	query := `
		SELECT id, token, file_path, expires_at, downloads, created_at
		FROM short_links
		WHERE token = $1
	`

	var l models.ShortLink
	err := r.db.GetContext(ctx, &l, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get short link: %w", err)
	}

	return &l, nil
}

func (r *shortLinkRepository) List(ctx context.Context, limit, offset int) ([]*models.ShortLink, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, token, file_path, expires_at, downloads, created_at
		FROM short_links
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	var links []*models.ShortLink
	if err := r.db.SelectContext(ctx, &links, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list short links: %w", err)
	}

	return links, nil
}

func (r *shortLinkRepository) IncrementDownloads(ctx context.Context, id int64) error {
	query := `UPDATE short_links SET downloads = downloads + 1 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}

	return nil
}

func (r *shortLinkRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM short_links WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete short link: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *shortLinkRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM short_links WHERE expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired short links: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read expiry cleanup result: %w", err)
	}

	return n, nil
}
