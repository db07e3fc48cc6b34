// Package handler provides HTTP handlers for the application.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/middleware"
	"github.com/oldtowntours/ticketdesk/internal/service"
	"github.com/oldtowntours/ticketdesk/internal/storage"
)

// Handler holds the HTTP layer's dependencies.
type Handler struct {
	services service.Service
	verifier *bokun.Verifier
	store    storage.BlobStore
	metrics  *metrics.Metrics
	cfg      *config.Config
	logger   *zap.Logger

	metricsHandler http.Handler
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	services service.Service,
	verifier *bokun.Verifier,
	store storage.BlobStore,
	m *metrics.Metrics,
	metricsHandler http.Handler,
	cfg *config.Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		services:       services,
		verifier:       verifier,
		store:          store,
		metrics:        m,
		cfg:            cfg,
		logger:         logger,
		metricsHandler: metricsHandler,
	}
}

// Routes builds the full router. The webhook endpoint and public downloads
// sit outside the API-key guard; everything under /api/v1 requires it. The
// sync triggers get their own, much stricter rate limit because each run
// fans out into many upstream calls.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Timeout(60 * time.Second))

	if h.cfg.Middleware.EnableCORS {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = h.cfg.Middleware.AllowedOrigins
		r.Use(middleware.CORS(corsCfg))
	}

	generalLimit := middleware.NewRateLimiter(h.cfg.Middleware.RateLimit, h.cfg.Middleware.RateLimitBurst)
	syncLimit := middleware.NewRateLimiter(h.cfg.Middleware.SyncRateLimit, h.cfg.Middleware.SyncRateLimitBurst)

	r.Group(func(r chi.Router) {
		r.Use(generalLimit.Handler)

		r.Get("/health", h.GetHealth)
		r.Post("/webhook/bokun", h.ReceiveWebhook)
		r.Get("/t/{token}", h.DownloadTicket)
		r.Post("/callbacks/{channel}/status", h.ProviderStatusCallback)
		r.Post("/callbacks/{channel}/inbound", h.ProviderInboundCallback)
	})

	if h.metricsHandler != nil {
		r.Handle("/metrics", h.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(h.cfg.Middleware.APIKey))

		r.Group(func(r chi.Router) {
			r.Use(syncLimit.Handler)
			r.Post("/sync", h.RunFullSync)
			r.Post("/auto-sync", h.RunAutoSync)
		})

		r.Group(func(r chi.Router) {
			r.Use(generalLimit.Handler)

			r.Route("/bookings", func(r chi.Router) {
				r.Get("/", h.ListBookings)
				r.Post("/", h.CreateBooking)
				r.Get("/{id}", h.GetBooking)
				r.Put("/{id}", h.UpdateBooking)
				r.Get("/{id}/messages", h.BookingMessages)
				r.Put("/{id}/ticket", h.MarkTicketPurchased)
				r.Put("/{id}/document", h.UploadTicketDocument)
				r.Post("/{id}/send", h.SendTicket)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", h.ListWebhooks)
				r.Get("/stats", h.WebhookStats)
				r.Post("/retry-all", h.RetryAllWebhooks)
				r.Post("/{id}/retry", h.RetryWebhook)
				r.Delete("/cleanup", h.CleanupWebhooks)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", h.ListMessages)
				r.Post("/", h.SendManualMessage)
				r.Get("/templates", h.ListMessageTemplates)
				r.Post("/preview", h.PreviewMessage)
				r.Post("/retry-all", h.RetryAllMessages)
				r.Get("/{id}", h.GetMessage)
				r.Post("/{id}/retry", h.RetryMessage)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Get("/{id}", h.GetConversation)
				r.Get("/{id}/messages", h.ConversationMessages)
				r.Put("/{id}/read", h.MarkConversationRead)
				r.Put("/{id}/archive", h.ArchiveConversation)
				r.Put("/{id}/reactivate", h.ReactivateConversation)
			})

			r.Route("/links", func(r chi.Router) {
				r.Get("/", h.ListShortLinks)
				r.Post("/", h.CreateShortLink)
				r.Delete("/expired", h.DeleteExpiredShortLinks)
				r.Delete("/{id}", h.DeleteShortLink)
			})
		})
	})

	return r
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Message: message})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	render.Status(r, status)
	render.JSON(w, r, body)
}
