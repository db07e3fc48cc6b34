package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	var status *models.ConversationStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.ConversationStatus(s)
		if st != models.ConversationStatusActive && st != models.ConversationStatusArchived {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_STATUS", "Unknown conversation status")
			return
		}
		status = &st
	}

	conversations, err := h.services.Conversation().List(r.Context(), status, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list conversations")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// GetConversation returns one thread, including whether the WhatsApp
// reply window is still open.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.services.Conversation().Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "conversation")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"window_open":  conv.WindowOpen(time.Now().UTC()),
	})
}

func (h *Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.services.Conversation().Messages(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "conversation")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	h.updateConversation(w, r, func(id int64) error {
		return h.services.Conversation().MarkRead(r.Context(), id)
	})
}

func (h *Handler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	h.updateConversation(w, r, func(id int64) error {
		return h.services.Conversation().Archive(r.Context(), id)
	})
}

func (h *Handler) ReactivateConversation(w http.ResponseWriter, r *http.Request) {
	h.updateConversation(w, r, func(id int64) error {
		return h.services.Conversation().Reactivate(r.Context(), id)
	})
}

func (h *Handler) updateConversation(w http.ResponseWriter, r *http.Request, op func(int64) error) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := op(id); err != nil {
		h.notFoundOr500(w, r, err, "conversation")
		return
	}

	conv, err := h.services.Conversation().Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "conversation")
		return
	}

	h.respond(w, r, http.StatusOK, conv)
}
