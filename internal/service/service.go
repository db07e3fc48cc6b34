package service

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/provider"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

type serviceImpl struct {
	booking      BookingService
	webhook      WebhookService
	sync         SyncService
	delivery     DeliveryService
	conversation ConversationService
	shortLink    ShortLinkService
	health       HealthService
}

// Deps carries the infrastructure every service is built from.
type Deps struct {
	Repo      repository.Repository
	Redis     *redis.Client
	Bokun     bokun.Client
	WhatsApp  provider.WhatsAppProvider
	SMS       provider.SMSProvider
	Email     provider.EmailProvider
	Scheduler RunStatus
	Config    *config.Config
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewService wires the full service graph.
func NewService(d Deps) Service {
	bookings := NewBookingService(d.Repo, d.Config, d.Metrics, d.Logger)
	webhooks := NewWebhookService(d.Repo, bookings, d.Config, d.Metrics, d.Logger)

	upstreamBreaker := NewCircuitBreaker("bokun", &d.Config.Delivery.CircuitBreaker, d.Logger)
	syncer := NewSyncService(d.Repo, bookings, d.Bokun, upstreamBreaker, d.Config, d.Metrics, d.Logger)

	conversations := NewConversationService(d.Repo, d.Logger)
	selector := NewChannelSelector(d.WhatsApp, d.Redis, d.Logger)
	delivery := NewDeliveryService(d.Repo, selector, d.WhatsApp, d.SMS, d.Email, conversations, d.Config, d.Metrics, d.Logger)

	shortLinks := NewShortLinkService(d.Repo, &d.Config.ShortLink, d.Logger)
	health := NewHealthService(d.Repo, d.Redis, d.Scheduler, delivery)

	return &serviceImpl{
		booking:      bookings,
		webhook:      webhooks,
		sync:         syncer,
		delivery:     delivery,
		conversation: conversations,
		shortLink:    shortLinks,
		health:       health,
	}
}

func (s *serviceImpl) Booking() BookingService           { return s.booking }
func (s *serviceImpl) Webhook() WebhookService           { return s.webhook }
func (s *serviceImpl) Sync() SyncService                 { return s.sync }
func (s *serviceImpl) Delivery() DeliveryService         { return s.delivery }
func (s *serviceImpl) Conversation() ConversationService { return s.conversation }
func (s *serviceImpl) ShortLink() ShortLinkService       { return s.shortLink }
func (s *serviceImpl) Health() HealthService             { return s.health }
