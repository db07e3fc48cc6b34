package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
	"github.com/oldtowntours/ticketdesk/internal/service"
)

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	filter := repository.BookingFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := models.BookingStatus(s)
		if !status.Valid() {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_STATUS", "Unknown booking status")
			return
		}
		filter.Status = &status
	}
	if p := r.URL.Query().Get("product_id"); p != "" {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_PRODUCT_ID", "product_id must be numeric")
			return
		}
		filter.ProductID = id
	}
	if r.URL.Query().Get("include_cancelled") == "true" {
		filter.IncludeCancelled = true
	}
	if from, ok := queryTime(r, "from"); ok {
		filter.From = &from
	}
	if to, ok := queryTime(r, "to"); ok {
		filter.To = &to
	}

	bookings, err := h.services.Booking().List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list bookings", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list bookings")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	booking, err := h.services.Booking().Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "booking")
		return
	}

	h.respond(w, r, http.StatusOK, booking)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var booking models.Booking
	if err := render.DecodeJSON(r.Body, &booking); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}

	id, err := h.services.Booking().Create(r.Context(), &booking)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}

	created, err := h.services.Booking().Get(r.Context(), id)
	if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "CREATE_FAILED", "Booking created but could not be read back")
		return
	}

	h.respond(w, r, http.StatusCreated, created)
}

func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var booking models.Booking
	if err := render.DecodeJSON(r.Body, &booking); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}
	booking.ID = id

	if err := h.services.Booking().Update(r.Context(), &booking); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Booking not found")
			return
		}
		h.sendError(w, r, http.StatusBadRequest, "UPDATE_FAILED", err.Error())
		return
	}

	updated, err := h.services.Booking().Get(r.Context(), id)
	if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "UPDATE_FAILED", "Booking updated but could not be read back")
		return
	}

	h.respond(w, r, http.StatusOK, updated)
}

func (h *Handler) BookingMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.services.Delivery().HistoryForBooking(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load booking messages", zap.Int64("booking_id", id), zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list messages")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

type ticketPurchasedRequest struct {
	Reference string `json:"reference"`
}

// MarkTicketPurchased records that an attraction ticket has been bought
// for the booking.
func (h *Handler) MarkTicketPurchased(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req ticketPurchasedRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}
	if req.Reference == "" {
		h.sendError(w, r, http.StatusBadRequest, "MISSING_REFERENCE", "Ticket reference is required")
		return
	}

	if err := h.services.Booking().SetTicketPurchased(r.Context(), id, req.Reference); err != nil {
		h.notFoundOr500(w, r, err, "booking")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]string{"status": "ticket_purchased"})
}

type sendTicketRequest struct {
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	SMSNotice         string `json:"sms_notice,omitempty"`
	DocumentURL       string `json:"document_url,omitempty"`
	DocumentName      string `json:"document_name,omitempty"`
	UseStoredDocument bool   `json:"use_stored_document,omitempty"`
}

// SendTicket delivers rendered ticket content to the booking's customer.
// With use_stored_document set, a short download link for the uploaded
// ticket PDF is minted and sent instead of an explicit URL.
func (h *Handler) SendTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req sendTicketRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}
	if req.Body == "" {
		h.sendError(w, r, http.StatusBadRequest, "MISSING_BODY", "Message body is required")
		return
	}

	content := &service.TicketContent{
		Subject:      req.Subject,
		Body:         req.Body,
		SMSNotice:    req.SMSNotice,
		DocumentURL:  req.DocumentURL,
		DocumentName: req.DocumentName,
	}

	if content.DocumentURL == "" && req.UseStoredDocument {
		booking, err := h.services.Booking().Get(r.Context(), id)
		if err != nil {
			h.notFoundOr500(w, r, err, "booking")
			return
		}

		_, url, err := h.services.ShortLink().Create(r.Context(), ticketDocumentPath(booking.BokunBookingID))
		if err != nil {
			h.logger.Error("Failed to mint ticket link", zap.Int64("booking_id", id), zap.Error(err))
			h.sendError(w, r, http.StatusInternalServerError, "LINK_FAILED", "Failed to create download link")
			return
		}
		content.DocumentURL = url
		if content.DocumentName == "" {
			content.DocumentName = "ticket.pdf"
		}
	}

	report, err := h.services.Delivery().SendTicket(r.Context(), id, content)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Booking not found")
			return
		}
		if errors.Is(err, service.ErrNoDeliveryChannel) {
			h.sendError(w, r, http.StatusUnprocessableEntity, "NO_CHANNEL", "Booking has no usable contact channel")
			return
		}
		h.sendError(w, r, http.StatusBadRequest, "SEND_FAILED", err.Error())
		return
	}

	status := http.StatusOK
	if report.Outcome == service.SendOutcomeFailed {
		status = http.StatusBadGateway
	}
	h.respond(w, r, status, report)
}

// RunFullSync triggers an unbounded reconciliation run inline.
func (h *Handler) RunFullSync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, true)
}

// RunAutoSync triggers a batch-limited reconciliation run, the same shape
// the background job executes.
func (h *Handler) RunAutoSync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, false)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, full bool) {
	summary, err := h.services.Sync().Run(r.Context(), full)
	if err != nil {
		if errors.Is(err, service.ErrSyncInFlight) {
			h.sendError(w, r, http.StatusConflict, "SYNC_IN_FLIGHT", "A sync run is already in progress")
			return
		}
		h.logger.Error("Sync run failed", zap.Bool("full", full), zap.Error(err))
		h.sendError(w, r, http.StatusBadGateway, "SYNC_FAILED", err.Error())
		return
	}

	h.respond(w, r, http.StatusOK, summary)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_ID", "ID must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, repository.ErrNotFound) {
		h.sendError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested "+what+" does not exist")
		return
	}
	h.logger.Error("Request failed", zap.String("resource", what), zap.Error(err))
	h.sendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryTime(r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func ticketDocumentPath(bokunBookingID string) string {
	return "tickets/" + bokunBookingID + ".pdf"
}
