package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
	"github.com/oldtowntours/ticketdesk/internal/service"
	"github.com/oldtowntours/ticketdesk/internal/storage"
)

// fakeServices wires hand-rolled sub-service stubs behind the aggregate.
// Stubs embed their interface, so a call to an unstubbed method panics and
// fails the test loudly instead of passing silently.
type fakeServices struct {
	booking      service.BookingService
	webhook      service.WebhookService
	sync         service.SyncService
	delivery     service.DeliveryService
	conversation service.ConversationService
	shortLink    service.ShortLinkService
	health       service.HealthService
}

func (f *fakeServices) Booking() service.BookingService           { return f.booking }
func (f *fakeServices) Webhook() service.WebhookService           { return f.webhook }
func (f *fakeServices) Sync() service.SyncService                 { return f.sync }
func (f *fakeServices) Delivery() service.DeliveryService         { return f.delivery }
func (f *fakeServices) Conversation() service.ConversationService { return f.conversation }
func (f *fakeServices) ShortLink() service.ShortLinkService       { return f.shortLink }
func (f *fakeServices) Health() service.HealthService             { return f.health }

type fakeWebhookSvc struct {
	service.WebhookService
	outcome *service.ProcessOutcome
	err     error

	gotBody []byte
}

func (f *fakeWebhookSvc) Ingest(_ context.Context, body []byte, _ http.Header) (*service.ProcessOutcome, error) {
	f.gotBody = body
	return f.outcome, f.err
}

type fakeShortLinkSvc struct {
	service.ShortLinkService
	link *models.ShortLink
	err  error
}

func (f *fakeShortLinkSvc) Resolve(context.Context, string) (*models.ShortLink, error) {
	return f.link, f.err
}

type fakeSyncSvc struct {
	service.SyncService
	summary *service.SyncSummary
	err     error

	gotFull bool
}

func (f *fakeSyncSvc) Run(_ context.Context, full bool) (*service.SyncSummary, error) {
	f.gotFull = full
	return f.summary, f.err
}

type fakeHealthSvc struct {
	status *service.HealthStatus
}

func (f *fakeHealthSvc) GetHealth(context.Context) *service.HealthStatus {
	return f.status
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		Middleware: config.MiddlewareConfig{
			RateLimit:          100,
			RateLimitBurst:     100,
			SyncRateLimit:      100,
			SyncRateLimitBurst: 100,
		},
	}
}

func newTestHandler(t *testing.T, services service.Service, secret string) http.Handler {
	t.Helper()

	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	h := NewHandler(services, bokun.NewVerifier(secret), store, m, nil, testHandlerConfig(), zap.NewNop())
	return h.Routes()
}

func signedWebhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/bokun", strings.NewReader(body))
	req.Header.Set("X-Bokun-Topic", "bookings/update")
	req.Header.Set(bokun.SignatureHeader, bokun.Sign(req.Header, secret))
	return req
}

func TestReceiveWebhook_ValidSignature(t *testing.T) {
	webhook := &fakeWebhookSvc{outcome: &service.ProcessOutcome{Count: 2}}
	router := newTestHandler(t, &fakeServices{webhook: webhook}, "hook-secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(`{"confirmationCode":"BOOK-1"}`, "hook-secret"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"cancelled":0,"ignored":0}`, rec.Body.String())
	assert.Equal(t, `{"confirmationCode":"BOOK-1"}`, string(webhook.gotBody))
}

func TestReceiveWebhook_InvalidSignature(t *testing.T) {
	webhook := &fakeWebhookSvc{outcome: &service.ProcessOutcome{}}
	router := newTestHandler(t, &fakeServices{webhook: webhook}, "hook-secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(`{}`, "wrong-secret"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
	assert.Nil(t, webhook.gotBody, "rejected payloads must not reach the service")
}

func TestReceiveWebhook_NoSecretAcceptsUnsigned(t *testing.T) {
	webhook := &fakeWebhookSvc{outcome: &service.ProcessOutcome{Count: 1}}
	router := newTestHandler(t, &fakeServices{webhook: webhook}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/bokun", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveWebhook_IngestFailure(t *testing.T) {
	webhook := &fakeWebhookSvc{err: assert.AnError}
	router := newTestHandler(t, &fakeServices{webhook: webhook}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/bokun", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INGEST_FAILED")
}

func TestDownloadTicket_StreamsDocument(t *testing.T) {
	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "tickets/BOOK-1.pdf", strings.NewReader("%PDF-1.4")))

	links := &fakeShortLinkSvc{link: &models.ShortLink{Token: "aB3dE6gH", FilePath: "tickets/BOOK-1.pdf"}}
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	h := NewHandler(&fakeServices{shortLink: links}, bokun.NewVerifier(""), store, m, nil, testHandlerConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t/aB3dE6gH.pdf", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestDownloadTicket_ExpiredReadsAsNotFound(t *testing.T) {
	links := &fakeShortLinkSvc{err: service.ErrLinkExpired}
	router := newTestHandler(t, &fakeServices{shortLink: links}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t/oldToken1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadTicket_UnknownTokenReadsAsNotFound(t *testing.T) {
	links := &fakeShortLinkSvc{err: repository.ErrNotFound}
	router := newTestHandler(t, &fakeServices{shortLink: links}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t/n0Such0k", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHealth(t *testing.T) {
	healthy := &fakeHealthSvc{status: &service.HealthStatus{Status: "healthy"}}
	router := newTestHandler(t, &fakeServices{health: healthy}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := &fakeHealthSvc{status: &service.HealthStatus{Status: "unhealthy"}}
	router = newTestHandler(t, &fakeServices{health: down}, "")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunFullSync(t *testing.T) {
	syncer := &fakeSyncSvc{summary: &service.SyncSummary{Fetched: 3}}
	router := newTestHandler(t, &fakeServices{sync: syncer}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, syncer.gotFull)
}

func TestRunAutoSync_ConflictWhileInFlight(t *testing.T) {
	syncer := &fakeSyncSvc{err: service.ErrSyncInFlight}
	router := newTestHandler(t, &fakeServices{sync: syncer}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auto-sync", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYNC_IN_FLIGHT")
	assert.False(t, syncer.gotFull)
}

func TestListMessageTemplates(t *testing.T) {
	router := newTestHandler(t, &fakeServices{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/templates", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticket_delivery")
	assert.Contains(t, rec.Body.String(), "tour_reminder")
}

func TestPreviewMessage(t *testing.T) {
	router := newTestHandler(t, &fakeServices{}, "")

	body := `{
		"template": "ticket_ready_notice",
		"vars": {"customer_name": "Anna", "tour_name": "Old Town Walk"}
	}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages/preview", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Anna, your Old Town Walk tickets")
}

func TestPreviewMessage_UnknownTemplate(t *testing.T) {
	router := newTestHandler(t, &fakeServices{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages/preview",
		strings.NewReader(`{"template": "no_such_template"}`)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_TEMPLATE")
}

func TestPreviewMessage_MissingVarIsRejected(t *testing.T) {
	router := newTestHandler(t, &fakeServices{}, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages/preview",
		strings.NewReader(`{"template": "tour_reminder", "vars": {"tour_name": "Old Town Walk"}}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RENDER_FAILED")
}
