package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"
)

// maxWebhookBody caps inbound payload size. Bokun payloads are a few KB;
// anything larger is not a legitimate callback.
const maxWebhookBody = 1 << 20

// ReceiveWebhook accepts one upstream callback. Signature verification
// rejects with 401 when a secret is configured; with no secret every
// payload is accepted. An accepted delivery is always acknowledged with
// 200 so the upstream never re-sends what we have already logged, even
// when processing failed and will be retried locally.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier.Enabled() && !h.verifier.Verify(r.Header) {
		h.metrics.WebhooksRejected.Inc()
		h.logger.Warn("Webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.sendError(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body")
		return
	}

	outcome, err := h.services.Webhook().Ingest(r.Context(), body, r.Header)
	if err != nil {
		h.logger.Error("Failed to ingest webhook", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "INGEST_FAILED", "Failed to store webhook")
		return
	}

	h.respond(w, r, http.StatusOK, outcome)
}
