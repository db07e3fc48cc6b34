package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
	"github.com/oldtowntours/ticketdesk/internal/repository/mocks"
)

func newWebhookFixture(t *testing.T) (*mocks.MockBookingRepository, *mocks.MockWebhookLogRepository, WebhookService) {
	t.Helper()
	ctrl := gomock.NewController(t)

	bookingRepo := mocks.NewMockBookingRepository(ctrl)
	webhookRepo := mocks.NewMockWebhookLogRepository(ctrl)
	repo := &stubRepo{booking: bookingRepo, webhookLog: webhookRepo}

	cfg := testConfig()
	m := testMetrics()
	logger := zap.NewNop()

	bookings := NewBookingService(repo, cfg, m, logger)
	return bookingRepo, webhookRepo, NewWebhookService(repo, bookings, cfg, m, logger)
}

func TestWebhookService_Ingest_UpsertsEligibleSubBookings(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "BOOKING_CONFIRMED",
		"customer": {"firstName": "Anna", "lastName": "Kowalska"},
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100, "title": "Old Town Walk"}, "totalParticipants": 2},
			{"confirmationCode": "BOOK-456-B", "product": {"id": 999, "title": "Unrelated"}, "totalParticipants": 4}
		]
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, l *models.WebhookLog) (int64, error) {
			assert.Equal(t, "BOOKING_CONFIRMED", l.EventType)
			assert.Equal(t, models.WebhookStatusPending, l.Status)
			assert.Equal(t, "BOOK-456", l.BokunBookingID.String)
			return 7, nil
		})
	bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, u *repository.BookingUpsert) (bool, error) {
			assert.Equal(t, "BOOK-456-A", u.BokunBookingID)
			assert.Equal(t, int64(100), u.ProductID)
			assert.Equal(t, "Anna Kowalska", u.CustomerName)
			assert.Equal(t, 2, u.Pax)
			return true, nil
		})
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(7)).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Count)
	assert.Equal(t, 1, outcome.Ignored)
	assert.Equal(t, 0, outcome.Cancelled)
}

func TestWebhookService_Ingest_ReplayIsIdempotentUpsert(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "BOOKING_UPDATED",
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100}, "totalParticipants": 2}
		]
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(8), nil)
	// Replay merges into the existing row instead of creating a duplicate.
	bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).Return(false, nil)
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(8)).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Count)
}

func TestWebhookService_Ingest_CancellationForUnknownBookingSucceeds(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-999",
		"action": "BOOKING_ITEM_CANCELLED",
		"productBookings": []
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(9), nil)
	bookingRepo.EXPECT().Cancel(ctx, "BOOK-999", gomock.Any()).Return(false, nil)
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(9)).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Cancelled)
}

func TestWebhookService_Ingest_CancellationSoftDeletes(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "booking_cancelled",
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100}}
		]
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(10), nil)
	// Event matching is case-insensitive.
	bookingRepo.EXPECT().Cancel(ctx, "BOOK-456-A", gomock.Any()).Return(true, nil)
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(10)).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Cancelled)
}

func TestWebhookService_Ingest_MalformedPayloadFailsPermanently(t *testing.T) {
	_, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(11), nil)
	webhookRepo.EXPECT().MarkFailed(ctx, int64(11), gomock.Any(), true, 3).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte("{not json"), http.Header{})

	// The delivery is acknowledged; the failure lives in the log.
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Count)
}

func TestWebhookService_Ingest_ProcessingErrorIsRetryable(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "BOOKING_CONFIRMED",
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100}, "totalParticipants": 1}
		]
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(12), nil)
	bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).Return(false, assert.AnError)
	webhookRepo.EXPECT().MarkFailed(ctx, int64(12), gomock.Any(), false, 3).Return(nil)

	_, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)
}

func TestWebhookService_Ingest_SubBookingFailureDoesNotStarveSiblings(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "BOOKING_CONFIRMED",
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100}, "totalParticipants": 1},
			{"confirmationCode": "BOOK-456-B", "product": {"id": 200}, "totalParticipants": 2}
		]
	}`

	webhookRepo.EXPECT().Create(ctx, gomock.Any()).Return(int64(13), nil)
	gomock.InOrder(
		bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).Return(false, assert.AnError),
		// The sibling is still applied before the log entry fails.
		bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, u *repository.BookingUpsert) (bool, error) {
				assert.Equal(t, "BOOK-456-B", u.BokunBookingID)
				return true, nil
			}),
	)
	webhookRepo.EXPECT().MarkFailed(ctx, int64(13), gomock.Any(), false, 3).Return(nil)

	outcome, err := svc.Ingest(ctx, []byte(payload), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Count)
}

func TestWebhookService_Retry(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	payload := `{
		"confirmationCode": "BOOK-456",
		"action": "BOOKING_CONFIRMED",
		"productBookings": [
			{"confirmationCode": "BOOK-456-A", "product": {"id": 100}, "totalParticipants": 2}
		]
	}`

	webhookRepo.EXPECT().GetByID(ctx, int64(5)).Return(&models.WebhookLog{
		ID:         5,
		Payload:    payload,
		Status:     models.WebhookStatusFailed,
		RetryCount: 1,
	}, nil)
	webhookRepo.EXPECT().Reset(ctx, int64(5)).Return(nil)
	bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).Return(false, nil)
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(5)).Return(nil)

	outcome, err := svc.Retry(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Count)
}

func TestWebhookService_Retry_ExhaustedIsRejected(t *testing.T) {
	_, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	webhookRepo.EXPECT().GetByID(ctx, int64(5)).Return(&models.WebhookLog{
		ID:         5,
		Status:     models.WebhookStatusFailed,
		RetryCount: 3,
	}, nil)

	_, err := svc.Retry(ctx, 5)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestWebhookService_Retry_ProcessedIsRejected(t *testing.T) {
	_, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	webhookRepo.EXPECT().GetByID(ctx, int64(6)).Return(&models.WebhookLog{
		ID:     6,
		Status: models.WebhookStatusProcessed,
	}, nil)

	_, err := svc.Retry(ctx, 6)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestWebhookService_RetryAll(t *testing.T) {
	bookingRepo, webhookRepo, svc := newWebhookFixture(t)
	ctx := context.Background()

	good := `{"confirmationCode":"BOOK-1","action":"X","productBookings":[{"confirmationCode":"BOOK-1-A","product":{"id":100},"totalParticipants":1}]}`

	webhookRepo.EXPECT().GetRetryable(ctx, 3, 50).Return([]*models.WebhookLog{
		{ID: 1, Payload: good, Status: models.WebhookStatusFailed, RetryCount: 1},
		{ID: 2, Payload: "{broken", Status: models.WebhookStatusFailed, RetryCount: 1},
	}, nil)

	webhookRepo.EXPECT().GetByID(ctx, int64(1)).Return(&models.WebhookLog{ID: 1, Payload: good, Status: models.WebhookStatusFailed, RetryCount: 1}, nil)
	webhookRepo.EXPECT().Reset(ctx, int64(1)).Return(nil)
	bookingRepo.EXPECT().Upsert(ctx, gomock.Any()).Return(false, nil)
	webhookRepo.EXPECT().MarkProcessed(ctx, int64(1)).Return(nil)

	webhookRepo.EXPECT().GetByID(ctx, int64(2)).Return(&models.WebhookLog{ID: 2, Payload: "{broken", Status: models.WebhookStatusFailed, RetryCount: 1}, nil)
	webhookRepo.EXPECT().Reset(ctx, int64(2)).Return(nil)
	webhookRepo.EXPECT().MarkFailed(ctx, int64(2), gomock.Any(), true, 3).Return(nil)

	summary, err := svc.RetryAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}
