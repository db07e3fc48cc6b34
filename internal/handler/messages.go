package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
	"github.com/oldtowntours/ticketdesk/internal/service"
)

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	filter := repository.MessageFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	if c := r.URL.Query().Get("channel"); c != "" {
		ch := models.Channel(c)
		if !ch.Valid() {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_CHANNEL", "Unknown channel")
			return
		}
		filter.Channel = &ch
	}
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.MessageStatus(s)
		filter.Status = &st
	}
	if d := r.URL.Query().Get("direction"); d != "" {
		dir := models.Direction(d)
		if dir != models.DirectionInbound && dir != models.DirectionOutbound {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_DIRECTION", "Unknown direction")
			return
		}
		filter.Direction = &dir
	}

	messages, err := h.services.Delivery().History(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list messages", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list messages")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	msg, err := h.services.Delivery().Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "message")
		return
	}

	h.respond(w, r, http.StatusOK, msg)
}

func (h *Handler) SendManualMessage(w http.ResponseWriter, r *http.Request) {
	var req service.ManualSend
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}

	result, err := h.services.Delivery().SendManual(r.Context(), &req)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "SEND_FAILED", err.Error())
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	h.respond(w, r, status, result)
}

// ListMessageTemplates returns the operator-facing template catalog.
func (h *Handler) ListMessageTemplates(w http.ResponseWriter, r *http.Request) {
	templates := service.Templates()
	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"count":     len(templates),
	})
}

type previewRequest struct {
	Template string            `json:"template"`
	Vars     map[string]string `json:"vars,omitempty"`
}

// PreviewMessage renders a template with the given vars and returns the
// text without sending anything.
func (h *Handler) PreviewMessage(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}
	if req.Template == "" {
		h.sendError(w, r, http.StatusBadRequest, "MISSING_TEMPLATE", "Template name is required")
		return
	}

	rendered, err := service.RenderTemplate(req.Template, req.Vars)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTemplate) {
			h.sendError(w, r, http.StatusNotFound, "UNKNOWN_TEMPLATE", "No such message template")
			return
		}
		h.sendError(w, r, http.StatusBadRequest, "RENDER_FAILED", err.Error())
		return
	}

	h.respond(w, r, http.StatusOK, rendered)
}

func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	result, err := h.services.Delivery().Retry(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotRetryable) {
			h.sendError(w, r, http.StatusConflict, "NOT_RETRYABLE", "Message is not failed or has exhausted its retries")
			return
		}
		h.notFoundOr500(w, r, err, "message")
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	h.respond(w, r, status, result)
}

func (h *Handler) RetryAllMessages(w http.ResponseWriter, r *http.Request) {
	var channel *models.Channel
	if c := r.URL.Query().Get("channel"); c != "" {
		ch := models.Channel(c)
		if !ch.Valid() {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_CHANNEL", "Unknown channel")
			return
		}
		channel = &ch
	}

	summary, err := h.services.Delivery().RetryAll(r.Context(), channel)
	if err != nil {
		h.logger.Error("Message retry pass failed", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "RETRY_FAILED", "Failed to run retry pass")
		return
	}

	h.respond(w, r, http.StatusOK, summary)
}

type statusCallbackRequest struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// ProviderStatusCallback applies one delivery receipt from a messaging
// provider. Unknown provider ids are acknowledged anyway: providers keep
// re-sending receipts that are not acknowledged, and a receipt for a
// message we never recorded carries nothing actionable.
func (h *Handler) ProviderStatusCallback(w http.ResponseWriter, r *http.Request) {
	channel := models.Channel(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		h.sendError(w, r, http.StatusNotFound, "UNKNOWN_CHANNEL", "Unknown channel")
		return
	}

	var req statusCallbackRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}
	if req.ProviderID == "" || req.Status == "" {
		h.sendError(w, r, http.StatusBadRequest, "MISSING_FIELDS", "provider_id and status are required")
		return
	}

	at := time.Time{}
	if req.Timestamp > 0 {
		at = time.Unix(req.Timestamp, 0).UTC()
	}

	err := h.services.Delivery().HandleStatusCallback(r.Context(), req.ProviderID, models.MessageStatus(req.Status), at)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.sendError(w, r, http.StatusBadRequest, "CALLBACK_FAILED", err.Error())
		return
	}

	h.respond(w, r, http.StatusOK, map[string]string{"status": "accepted"})
}

type inboundCallbackRequest struct {
	From       string `json:"from"`
	Content    string `json:"content"`
	ProviderID string `json:"provider_id,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// ProviderInboundCallback files a customer reply relayed by a provider.
func (h *Handler) ProviderInboundCallback(w http.ResponseWriter, r *http.Request) {
	channel := models.Channel(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		h.sendError(w, r, http.StatusNotFound, "UNKNOWN_CHANNEL", "Unknown channel")
		return
	}

	var req inboundCallbackRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}

	in := &service.InboundMessage{
		From:       req.From,
		Channel:    channel,
		Content:    req.Content,
		ProviderID: req.ProviderID,
	}
	if req.Timestamp > 0 {
		in.At = time.Unix(req.Timestamp, 0).UTC()
	}

	conv, err := h.services.Conversation().RecordInbound(r.Context(), in)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INBOUND_FAILED", err.Error())
		return
	}

	h.respond(w, r, http.StatusOK, conv)
}
