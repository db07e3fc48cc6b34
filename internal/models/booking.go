// Package models defines data structures used throughout the application.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPendingTicket   BookingStatus = "pending_ticket"
	BookingStatusTicketPurchased BookingStatus = "ticket_purchased"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	return s == BookingStatusPendingTicket || s == BookingStatusTicketPurchased
}

// Participant is one named person on a booking.
type Participant struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Booking is one reservation for a tour product, keyed by the Bokun
// confirmation code. Participants is a JSON array column: NULL means the
// upstream was never asked, an empty array means it was asked and reported
// nobody. The distinction keeps enrichment from re-fetching forever.
type Booking struct {
	ID                 int64          `db:"id" json:"id"`
	BokunBookingID     string         `db:"bokun_booking_id" json:"bokun_booking_id"`
	ProductID          int64          `db:"product_id" json:"product_id"`
	ProductName        sql.NullString `db:"product_name" json:"product_name,omitempty"`
	BookingChannel     sql.NullString `db:"booking_channel" json:"booking_channel,omitempty"`
	CustomerName       string         `db:"customer_name" json:"customer_name"`
	CustomerEmail      sql.NullString `db:"customer_email" json:"customer_email,omitempty"`
	CustomerPhone      sql.NullString `db:"customer_phone" json:"customer_phone,omitempty"`
	TourDate           sql.NullTime   `db:"tour_date" json:"tour_date,omitempty"`
	Pax                int            `db:"pax" json:"pax"`
	PaxBreakdown       sql.NullString `db:"pax_breakdown" json:"pax_breakdown,omitempty"`
	Participants       sql.NullString `db:"participants" json:"participants,omitempty"`
	Status             BookingStatus  `db:"status" json:"status"`
	TicketReference    sql.NullString `db:"ticket_reference" json:"ticket_reference,omitempty"`
	GuideName          sql.NullString `db:"guide_name" json:"guide_name,omitempty"`
	HasAudioGuide      bool           `db:"has_audio_guide" json:"has_audio_guide"`
	AudioGuideUsername sql.NullString `db:"audio_guide_username" json:"audio_guide_username,omitempty"`
	AudioGuidePassword sql.NullString `db:"audio_guide_password" json:"-"`
	TicketSentAt       sql.NullTime   `db:"ticket_sent_at" json:"ticket_sent_at,omitempty"`
	WizardStartedAt    sql.NullTime   `db:"wizard_started_at" json:"wizard_started_at,omitempty"`
	WizardLastStep     sql.NullString `db:"wizard_last_step" json:"wizard_last_step,omitempty"`
	WizardAbandonedAt  sql.NullTime   `db:"wizard_abandoned_at" json:"wizard_abandoned_at,omitempty"`
	CancelledAt        sql.NullTime   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Cancelled reports whether the booking has been soft-deleted.
func (b *Booking) Cancelled() bool {
	return b.CancelledAt.Valid
}

// ParticipantList decodes the participants column. A nil slice means the
// upstream was never consulted.
func (b *Booking) ParticipantList() ([]Participant, error) {
	if !b.Participants.Valid {
		return nil, nil
	}
	var list []Participant
	if err := json.Unmarshal([]byte(b.Participants.String), &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []Participant{}
	}
	return list, nil
}

// NeedsEnrichment reports whether any backfillable field is still missing.
func (b *Booking) NeedsEnrichment() bool {
	return !b.Participants.Valid || !b.BookingChannel.Valid || !b.CustomerEmail.Valid
}
