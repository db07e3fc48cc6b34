package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

const bookingColumns = `id, bokun_booking_id, product_id, product_name, booking_channel,
	customer_name, customer_email, customer_phone, tour_date, pax, pax_breakdown,
	participants, status, ticket_reference, guide_name, has_audio_guide,
	audio_guide_username, audio_guide_password, ticket_sent_at, wizard_started_at,
	wizard_last_step, wizard_abandoned_at, cancelled_at, created_at, updated_at`

type bookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) BookingRepository {
	return &bookingRepository{
		db: db,
	}
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)

	var b models.Booking
	err := r.db.GetContext(ctx, &b, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by id: %w", err)
	}

	return &b, nil
}

func (r *bookingRepository) GetByBokunID(ctx context.Context, bokunBookingID string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE bokun_booking_id = $1`, bookingColumns)

	var b models.Booking
	err := r.db.GetContext(ctx, &b, query, bokunBookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by confirmation code: %w", err)
	}

	return &b, nil
}

func (r *bookingRepository) List(ctx context.Context, filter BookingFilter) ([]*models.Booking, error) {
	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeCancelled {
		conds = append(conds, "cancelled_at IS NULL")
	}
	if filter.Status != nil {
		conds = append(conds, "status = "+arg(*filter.Status))
	}
	if filter.ProductID != 0 {
		conds = append(conds, "product_id = "+arg(filter.ProductID))
	}
	if filter.From != nil {
		conds = append(conds, "tour_date >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "tour_date < "+arg(*filter.To))
	}

	query := fmt.Sprintf(`SELECT %s FROM bookings`, bookingColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY tour_date ASC NULLS LAST, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	var bookings []*models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	return bookings, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *models.Booking) (int64, error) {
	query := `
		INSERT INTO bookings (bokun_booking_id, product_id, product_name, booking_channel,
			customer_name, customer_email, customer_phone, tour_date, pax, pax_breakdown,
			status, has_audio_guide, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id
	`

	status := b.Status
	if status == "" {
		status = models.BookingStatusPendingTicket
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		b.BokunBookingID, b.ProductID, b.ProductName, b.BookingChannel,
		b.CustomerName, b.CustomerEmail, b.CustomerPhone, b.TourDate, b.Pax,
		b.PaxBreakdown, status, b.HasAudioGuide, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create booking: %w", err)
	}

	return id, nil
}

func (r *bookingRepository) Update(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings
		SET product_id = $2,
		    product_name = $3,
		    booking_channel = $4,
		    customer_name = $5,
		    customer_email = $6,
		    customer_phone = $7,
		    tour_date = $8,
		    pax = $9,
		    pax_breakdown = $10,
		    guide_name = $11,
		    has_audio_guide = $12,
		    audio_guide_username = $13,
		    audio_guide_password = $14,
		    wizard_started_at = $15,
		    wizard_last_step = $16,
		    wizard_abandoned_at = $17,
		    updated_at = $18
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		b.ID, b.ProductID, b.ProductName, b.BookingChannel, b.CustomerName,
		b.CustomerEmail, b.CustomerPhone, b.TourDate, b.Pax, b.PaxBreakdown,
		b.GuideName, b.HasAudioGuide, b.AudioGuideUsername, b.AudioGuidePassword,
		b.WizardStartedAt, b.WizardLastStep, b.WizardAbandonedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// Upsert merges one upstream product sub-booking into local state. The
// statement is the single write path shared by the webhook processor and
// the reconciliation engine, so interleaved runs can never lose data:
// a zero pax from upstream keeps the known count, and enrichment columns
// are not touched at all.
func (r *bookingRepository) Upsert(ctx context.Context, u *BookingUpsert) (bool, error) {
	query := `
		INSERT INTO bookings (bokun_booking_id, product_id, product_name, customer_name,
			tour_date, pax, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $8)
		ON CONFLICT (bokun_booking_id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			product_name = COALESCE(EXCLUDED.product_name, bookings.product_name),
			customer_name = CASE WHEN EXCLUDED.customer_name <> '' THEN EXCLUDED.customer_name ELSE bookings.customer_name END,
			tour_date = COALESCE(EXCLUDED.tour_date, bookings.tour_date),
			pax = CASE WHEN EXCLUDED.pax > 0 THEN EXCLUDED.pax ELSE bookings.pax END,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS created
	`

	var tourDate interface{}
	if !u.TourDate.IsZero() {
		tourDate = u.TourDate
	}

	var created bool
	err := r.db.QueryRowContext(ctx, query,
		u.BokunBookingID, u.ProductID, u.ProductName, u.CustomerName,
		tourDate, u.Pax, models.BookingStatusPendingTicket, time.Now()).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert booking: %w", err)
	}

	return created, nil
}

// SaveEnrichment backfills participants, channel and contact fields.
// Enrichment is additive: an existing non-empty participant list is kept
// when the new list is empty, and empty strings never null out a field.
func (r *bookingRepository) SaveEnrichment(ctx context.Context, bokunBookingID string, e *BookingEnrichment) error {
	participants := e.Participants
	if participants == nil {
		participants = []models.Participant{}
	}
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `
		UPDATE bookings
		SET participants = CASE
		        WHEN participants IS NOT NULL
		             AND jsonb_array_length(participants) > 0
		             AND jsonb_array_length($2::jsonb) = 0
		        THEN participants
		        ELSE $2::jsonb
		    END,
		    booking_channel = COALESCE(NULLIF($3, ''), booking_channel),
		    customer_email = COALESCE(NULLIF($4, ''), customer_email),
		    customer_phone = COALESCE(NULLIF($5, ''), customer_phone),
		    has_audio_guide = $6,
		    updated_at = $7
		WHERE bokun_booking_id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		bokunBookingID, string(participantsJSON), e.Channel, e.Email, e.Phone,
		e.HasAudioGuide, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *bookingRepository) Cancel(ctx context.Context, bokunBookingID string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET cancelled_at = $2, updated_at = $3
		WHERE bokun_booking_id = $1 AND cancelled_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, bokunBookingID, at, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result: %w", err)
	}

	return n > 0, nil
}

func (r *bookingRepository) ActiveFutureCodes(ctx context.Context, from time.Time) ([]string, error) {
	query := `
		SELECT bokun_booking_id FROM bookings
		WHERE cancelled_at IS NULL AND tour_date > $1
		ORDER BY tour_date ASC
	`

	var codes []string
	if err := r.db.SelectContext(ctx, &codes, query, from); err != nil {
		return nil, fmt.Errorf("failed to list future confirmation codes: %w", err)
	}

	return codes, nil
}

// NeedingEnrichment selects active bookings missing participants, channel
// or customer email, oldest tour date first. A limit of zero or less means
// unbounded (the explicit full-sync path).
func (r *bookingRepository) NeedingEnrichment(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE cancelled_at IS NULL
		  AND (participants IS NULL OR booking_channel IS NULL OR customer_email IS NULL)
		ORDER BY tour_date ASC NULLS LAST, id ASC
	`, bookingColumns)

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var bookings []*models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings needing enrichment: %w", err)
	}

	return bookings, nil
}

func (r *bookingRepository) MarkTicketSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET ticket_sent_at = $2, updated_at = $3
		WHERE id = $1 AND ticket_sent_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, id, at, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to mark ticket sent: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ticket sent result: %w", err)
	}

	return n > 0, nil
}

func (r *bookingRepository) SetTicketPurchased(ctx context.Context, id int64, reference string) error {
	query := `
		UPDATE bookings
		SET status = $2, ticket_reference = $3, updated_at = $4
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, models.BookingStatusTicketPurchased, reference, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set ticket purchased: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// FindByPhone matches the exact stored number first, then falls back to
// the last ten digits. Upcoming bookings win over past ones.
func (r *bookingRepository) FindByPhone(ctx context.Context, phone string) (*models.Booking, error) {
	digits := keepDigits(phone)
	last10 := digits
	if len(digits) > 10 {
		last10 = digits[len(digits)-10:]
	}

	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE cancelled_at IS NULL
		  AND (customer_phone = $1 OR RIGHT(regexp_replace(customer_phone, '\D', '', 'g'), 10) = $2)
		ORDER BY (customer_phone = $1) DESC, tour_date DESC NULLS LAST
		LIMIT 1
	`, bookingColumns)

	var b models.Booking
	err := r.db.GetContext(ctx, &b, query, phone, last10)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find booking by phone: %w", err)
	}

	return &b, nil
}

func (r *bookingRepository) PurgeCancelledBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM bookings WHERE cancelled_at IS NOT NULL AND cancelled_at < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cancelled bookings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}

	return n, nil
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
