// Package bokun talks to the Bokun reservation platform: the REST API for
// reconciliation and the inbound webhook channel.
package bokun

import (
	"strings"
	"time"
)

// Customer is the booking customer as Bokun reports it.
type Customer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// DisplayName joins the name parts, tolerating either being empty.
func (c Customer) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Product identifies one bookable product.
type Product struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ProductBooking is one product sub-booking inside a parent booking, as it
// appears in both webhook payloads and booking-search results.
type ProductBooking struct {
	ConfirmationCode  string  `json:"confirmationCode"`
	Product           Product `json:"product"`
	StartDateTime     int64   `json:"startDateTime"`
	TotalParticipants int     `json:"totalParticipants"`
}

// StartTime converts the epoch-millisecond start to a time.Time. The zero
// time is returned when the upstream omits the field.
func (p ProductBooking) StartTime() time.Time {
	if p.StartDateTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.StartDateTime).UTC()
}

// WebhookPayload is the body of one inbound Bokun callback.
type WebhookPayload struct {
	ConfirmationCode string           `json:"confirmationCode"`
	Action           string           `json:"action"`
	Status           string           `json:"status"`
	Customer         Customer         `json:"customer"`
	ProductBookings  []ProductBooking `json:"productBookings"`
}

// SearchResult is one parent booking from the booking-search endpoint.
type SearchResult struct {
	ConfirmationCode string           `json:"confirmationCode"`
	Status           string           `json:"status"`
	Customer         Customer         `json:"customer"`
	ProductBookings  []ProductBooking `json:"productBookings"`
}

type searchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalHits    int            `json:"totalHits"`
	TotalPages   int            `json:"totalPages"`
	TookInMillis int            `json:"tookInMillis"`
}

// BookingChannel names the sales channel (direct or an OTA).
type BookingChannel struct {
	Title string `json:"title"`
}

// Rate is the product rate a sub-booking was sold under. A specific rate
// code marks audio-guide bookings.
type Rate struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Passenger is one entry of the flat passenger list detail shape.
type Passenger struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	PricingCategory string `json:"pricingCategory"`
}

// PricingCategory titles one price tier (Adult, Child, ...).
type PricingCategory struct {
	Title string `json:"title"`
}

// PassengerInfo is the nested passenger of a pricing-category booking.
type PassengerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// PricingCategoryBooking is one seat of the pricing-category detail shape.
type PricingCategoryBooking struct {
	PricingCategory PricingCategory `json:"pricingCategory"`
	PassengerInfo   *PassengerInfo  `json:"passengerInfo"`
}

// BookingAnswer is one free-form question/answer pair.
type BookingAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ProductBookingDetails is the detail view of one product sub-booking.
// Participant names can arrive through any of the three shapes below.
type ProductBookingDetails struct {
	ConfirmationCode        string                   `json:"confirmationCode"`
	Product                 Product                  `json:"product"`
	Rate                    Rate                     `json:"rate"`
	StartDateTime           int64                    `json:"startDateTime"`
	TotalParticipants       int                      `json:"totalParticipants"`
	Passengers              []Passenger              `json:"passengers"`
	PricingCategoryBookings []PricingCategoryBooking `json:"pricingCategoryBookings"`
	BookingAnswers          []BookingAnswer          `json:"bookingAnswers"`
}

// BookingDetails is the full detail view of one parent booking.
type BookingDetails struct {
	ConfirmationCode string                  `json:"confirmationCode"`
	Status           string                  `json:"status"`
	BookingChannel   BookingChannel          `json:"bookingChannel"`
	Customer         Customer                `json:"customer"`
	ProductBookings  []ProductBookingDetails `json:"productBookings"`
}

// StatusCancelled is the upstream status value that marks an explicitly
// cancelled booking. Only this value is ever treated as evidence of
// cancellation; timeouts and errors are not.
const StatusCancelled = "CANCELLED"

// IsCancelled reports whether the upstream explicitly marks the booking
// cancelled.
func (d *BookingDetails) IsCancelled() bool {
	return strings.EqualFold(d.Status, StatusCancelled)
}
