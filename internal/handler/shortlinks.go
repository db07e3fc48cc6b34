package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/service"
	"github.com/oldtowntours/ticketdesk/internal/storage"
)

// maxDocumentSize caps uploaded ticket documents at 10 MB.
const maxDocumentSize = 10 << 20

// DownloadTicket streams the document behind a short link token. Expired
// and unknown tokens both read as 404 so a token probe learns nothing.
func (h *Handler) DownloadTicket(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	link, err := h.services.ShortLink().Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrLinkExpired) {
			h.sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Download link not found")
			return
		}
		h.notFoundOr500(w, r, err, "download link")
		return
	}

	blob, err := h.store.Get(r.Context(), link.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("Short link points at missing document",
				zap.String("token", link.Token),
				zap.String("file_path", link.FilePath),
			)
			h.sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Download link not found")
			return
		}
		h.logger.Error("Failed to open document", zap.String("file_path", link.FilePath), zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read document")
		return
	}
	defer func() {
		_ = blob.Close()
	}()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="ticket.pdf"`)
	if _, err := io.Copy(w, blob); err != nil {
		h.logger.Warn("Document stream interrupted", zap.String("token", link.Token), zap.Error(err))
	}
}

// UploadTicketDocument stores the ticket PDF for a booking. The body is
// the raw document; the stored path is derived from the confirmation code
// so a re-upload replaces the previous version.
func (h *Handler) UploadTicketDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	booking, err := h.services.Booking().Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, err, "booking")
		return
	}

	path := ticketDocumentPath(booking.BokunBookingID)
	if err := h.store.Put(r.Context(), path, io.LimitReader(r.Body, maxDocumentSize)); err != nil {
		h.logger.Error("Failed to store ticket document", zap.Int64("booking_id", id), zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to store document")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]string{
		"status":    "stored",
		"file_path": path,
	})
}

type createLinkRequest struct {
	FilePath string `json:"file_path"`
}

func (h *Handler) CreateShortLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to parse request body")
		return
	}

	link, url, err := h.services.ShortLink().Create(r.Context(), req.FilePath)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}

	h.respond(w, r, http.StatusCreated, map[string]interface{}{
		"link": link,
		"url":  url,
	})
}

func (h *Handler) ListShortLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.services.ShortLink().List(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.logger.Error("Failed to list short links", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list short links")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

func (h *Handler) DeleteShortLink(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.services.ShortLink().Delete(r.Context(), id); err != nil {
		h.notFoundOr500(w, r, err, "short link")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) DeleteExpiredShortLinks(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.services.ShortLink().DeleteExpired(r.Context())
	if err != nil {
		h.logger.Error("Failed to delete expired links", zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, "CLEANUP_FAILED", "Failed to delete expired links")
		return
	}

	h.respond(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}
