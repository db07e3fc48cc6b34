package handler

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/service"
)

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	var status *models.WebhookStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.WebhookStatus(s)
		if st != models.WebhookStatusPending && st != models.WebhookStatusProcessed && st != models.WebhookStatusFailed {
			h.sendError(w, r, http.StatusBadRequest, "INVALID_STATUS", "Unknown webhook status")
			return
		}
		status = &st
	}

	logs, err := h.services.Webhook().List(r.Context(), status, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.logger.Error("Failed to list webhook logs", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list webhook logs")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"webhooks": logs,
		"count":    len(logs),
	})
}

func (h *Handler) WebhookStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.services.Webhook().Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load webhook stats", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "STATS_FAILED", "Failed to load webhook stats")
		return
	}

	h.respond(w, r, http.StatusOK, stats)
}

func (h *Handler) RetryWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	outcome, err := h.services.Webhook().Retry(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotRetryable) {
			h.sendError(w, r, http.StatusConflict, "NOT_RETRYABLE", "Webhook is not failed or has exhausted its retries")
			return
		}
		h.notFoundOr500(w, r, err, "webhook log")
		return
	}

	h.respond(w, r, http.StatusOK, outcome)
}

func (h *Handler) RetryAllWebhooks(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Webhook().RetryAll(r.Context())
	if err != nil {
		h.logger.Error("Webhook retry pass failed", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "RETRY_FAILED", "Failed to run retry pass")
		return
	}

	h.respond(w, r, http.StatusOK, summary)
}

// CleanupWebhooks deletes terminal webhook logs older than the given
// number of days (default 30).
func (h *Handler) CleanupWebhooks(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	if days < 1 {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_DAYS", "days must be at least 1")
		return
	}

	deleted, err := h.services.Webhook().Cleanup(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Error("Webhook cleanup failed", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "CLEANUP_FAILED", "Failed to clean up webhook logs")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}
