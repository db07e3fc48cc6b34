package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/provider"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

// stubRepo hands the typed mocks out through the aggregate interface.
type stubRepo struct {
	booking      repository.BookingRepository
	webhookLog   repository.WebhookLogRepository
	message      repository.MessageRepository
	conversation repository.ConversationRepository
	shortLink    repository.ShortLinkRepository
}

func (s *stubRepo) Ping() error                                    { return nil }
func (s *stubRepo) Booking() repository.BookingRepository          { return s.booking }
func (s *stubRepo) WebhookLog() repository.WebhookLogRepository    { return s.webhookLog }
func (s *stubRepo) Message() repository.MessageRepository          { return s.message }
func (s *stubRepo) Conversation() repository.ConversationRepository { return s.conversation }
func (s *stubRepo) ShortLink() repository.ShortLinkRepository      { return s.shortLink }

func testConfig() *config.Config {
	return &config.Config{
		Bokun: config.BokunConfig{
			EligibleProductIDs:  []int64{100, 200},
			AudioGuideProductID: 100,
			AudioGuideRateCode:  "AUDIO",
			CallDelayMs:         1,
			PageSize:            50,
		},
		Webhook: config.WebhookConfig{
			MaxRetries:         3,
			RetryBatchSize:     50,
			CancellationEvents: []string{"BOOKING_ITEM_CANCELLED", "BOOKING_CANCELLED"},
		},
		Delivery: config.DeliveryConfig{
			MaxRetries: 3,
			CircuitBreaker: config.CircuitBreakerConfig{
				MaxRequests:      3,
				Interval:         60,
				Timeout:          60,
				FailureRatio:     0.6,
				ConsecutiveFails: 100,
			},
		},
		Sync: config.SyncConfig{
			IntervalMinutes:      15,
			RetryIntervalMinutes: 5,
			EnrichmentLimit:      25,
		},
		ShortLink: config.ShortLinkConfig{
			BaseURL:  "https://tix.example.com",
			TTLHours: 168,
		},
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics("test", prometheus.NewRegistry())
}

// stubBokunClient scripts upstream responses per confirmation code.
type stubBokunClient struct {
	searchResults []bokun.SearchResult
	searchErr     error
	details       map[string]*bokun.BookingDetails
	detailErrs    map[string]error

	mu           sync.Mutex
	detailCalls  []string
	searchCalled int
}

func (c *stubBokunClient) SearchUpcomingBookings(_ context.Context) ([]bokun.SearchResult, error) {
	c.mu.Lock()
	c.searchCalled++
	c.mu.Unlock()
	return c.searchResults, c.searchErr
}

func (c *stubBokunClient) GetBooking(_ context.Context, code string) (*bokun.BookingDetails, error) {
	c.mu.Lock()
	c.detailCalls = append(c.detailCalls, code)
	c.mu.Unlock()

	if err, ok := c.detailErrs[code]; ok {
		return nil, err
	}
	if d, ok := c.details[code]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("booking detail returned status 404")
}

// stubWhatsApp scripts the WhatsApp provider.
type stubWhatsApp struct {
	capable    bool
	capableErr error
	sendErr    error

	mu             sync.Mutex
	capabilityFor  []string
	sentTexts      []string
	sentDocuments  []string
	lastDocumentTo string
}

func (p *stubWhatsApp) SendText(_ context.Context, to, body string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sentTexts = append(p.sentTexts, to)
	return "wa-" + to, nil
}

func (p *stubWhatsApp) SendDocument(_ context.Context, to, _, documentURL, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sentDocuments = append(p.sentDocuments, documentURL)
	p.lastDocumentTo = to
	return "wa-doc-" + to, nil
}

func (p *stubWhatsApp) CheckCapability(_ context.Context, phone string) (bool, error) {
	p.mu.Lock()
	p.capabilityFor = append(p.capabilityFor, phone)
	p.mu.Unlock()
	return p.capable, p.capableErr
}

// stubSMS scripts the SMS provider.
type stubSMS struct {
	sendErr error

	mu   sync.Mutex
	sent []string
}

func (p *stubSMS) Send(_ context.Context, to, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, to)
	return "sms-" + to, nil
}

// stubEmail scripts the email provider.
type stubEmail struct {
	sendErr error

	mu              sync.Mutex
	sent            []string
	lastAttachments []provider.Attachment
}

func (p *stubEmail) Send(_ context.Context, to, _, _ string, attachments []provider.Attachment) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, to)
	p.lastAttachments = attachments
	return "email-" + to, nil
}
