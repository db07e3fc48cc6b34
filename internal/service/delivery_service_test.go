package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/provider"
	"github.com/oldtowntours/ticketdesk/internal/repository/mocks"
)

type deliveryFixture struct {
	bookingRepo *mocks.MockBookingRepository
	messageRepo *mocks.MockMessageRepository
	whatsapp    *stubWhatsApp
	sms         *stubSMS
	email       *stubEmail
	svc         DeliveryService
}

func newDeliveryFixture(t *testing.T, wa *stubWhatsApp) *deliveryFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &deliveryFixture{
		bookingRepo: mocks.NewMockBookingRepository(ctrl),
		messageRepo: mocks.NewMockMessageRepository(ctrl),
		whatsapp:    wa,
		sms:         &stubSMS{},
		email:       &stubEmail{},
	}
	repo := &stubRepo{booking: f.bookingRepo, message: f.messageRepo}

	cfg := testConfig()
	logger := zap.NewNop()
	selector := NewChannelSelector(wa, nil, logger)
	f.svc = NewDeliveryService(repo, selector, wa, f.sms, f.email, nil, cfg, testMetrics(), logger)
	return f
}

func ticketBooking(id int64, phone, email string) *models.Booking {
	b := booking(phone, email)
	b.ID = id
	b.BokunBookingID = "BOOK-456-A"
	return b
}

func TestDeliveryService_SendTicket_WhatsAppDocument(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: true})
	ctx := context.Background()

	f.bookingRepo.EXPECT().GetByID(ctx, int64(1)).Return(ticketBooking(1, "+48601234567", ""), nil)
	f.messageRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, m *models.Message) (int64, error) {
			assert.Equal(t, models.ChannelWhatsApp, m.Channel)
			assert.Equal(t, "+48601234567", m.Recipient)
			// The document reference rides with the message so retries can re-send it.
			assert.Contains(t, m.TemplateVars.String, "https://tix.example.com/t/abc123.pdf")
			return 10, nil
		})
	f.messageRepo.EXPECT().MarkSent(gomock.Any(), int64(10), "wa-doc-+48601234567").Return(nil)
	f.bookingRepo.EXPECT().MarkTicketSent(ctx, int64(1), gomock.Any()).Return(true, nil)

	report, err := f.svc.SendTicket(ctx, 1, &TicketContent{
		Body:         "Your tickets are ready",
		DocumentURL:  "https://tix.example.com/t/abc123.pdf",
		DocumentName: "tickets.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, SendOutcomeFull, report.Outcome)
	assert.True(t, report.FirstDelivery)
	assert.Equal(t, []string{"https://tix.example.com/t/abc123.pdf"}, f.whatsapp.sentDocuments)
}

func TestDeliveryService_SendTicket_PartialWhenOneChannelFails(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: false})
	f.sms.sendErr = errors.New("twilio 503")
	ctx := context.Background()

	f.bookingRepo.EXPECT().GetByID(ctx, int64(2)).Return(ticketBooking(2, "+48601234567", "anna@example.com"), nil)
	f.messageRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(int64(20), nil).Times(2)
	f.messageRepo.EXPECT().MarkSent(gomock.Any(), int64(20), gomock.Any()).Return(nil)
	f.messageRepo.EXPECT().MarkFailed(gomock.Any(), int64(20), gomock.Any()).Return(nil)
	f.bookingRepo.EXPECT().MarkTicketSent(ctx, int64(2), gomock.Any()).Return(false, nil)

	report, err := f.svc.SendTicket(ctx, 2, &TicketContent{Subject: "Tickets", Body: "attached", SMSNotice: "check your email"})
	require.NoError(t, err)

	assert.Equal(t, SendOutcomePartial, report.Outcome)
	assert.False(t, report.FirstDelivery)
	assert.Equal(t, []string{"anna@example.com"}, f.email.sent)
	assert.Empty(t, f.sms.sent)
}

func TestDeliveryService_SendTicket_AllChannelsFailed(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: false})
	f.sms.sendErr = errors.New("twilio down")
	f.email.sendErr = errors.New("sendgrid down")
	ctx := context.Background()

	f.bookingRepo.EXPECT().GetByID(ctx, int64(3)).Return(ticketBooking(3, "+48601234567", "anna@example.com"), nil)
	f.messageRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(int64(30), nil).Times(2)
	f.messageRepo.EXPECT().MarkFailed(gomock.Any(), int64(30), gomock.Any()).Return(nil).Times(2)
	// No MarkTicketSent: nothing landed.

	report, err := f.svc.SendTicket(ctx, 3, &TicketContent{Body: "tickets"})
	require.NoError(t, err)

	assert.Equal(t, SendOutcomeFailed, report.Outcome)
	assert.False(t, report.FirstDelivery)
}

func TestDeliveryService_SendTicket_CancelledBookingRejected(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()

	b := ticketBooking(4, "+48601234567", "")
	b.CancelledAt = sql.NullTime{Time: time.Now(), Valid: true}
	f.bookingRepo.EXPECT().GetByID(ctx, int64(4)).Return(b, nil)

	_, err := f.svc.SendTicket(ctx, 4, &TicketContent{Body: "tickets"})
	assert.Error(t, err)
}

func TestDeliveryService_SendTicket_EmailCarriesAttachments(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: false})
	ctx := context.Background()

	f.bookingRepo.EXPECT().GetByID(ctx, int64(5)).Return(ticketBooking(5, "", "anna@example.com"), nil)
	f.messageRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(int64(50), nil)
	f.messageRepo.EXPECT().MarkSent(gomock.Any(), int64(50), gomock.Any()).Return(nil)
	f.bookingRepo.EXPECT().MarkTicketSent(ctx, int64(5), gomock.Any()).Return(true, nil)

	atts := []provider.Attachment{{Filename: "tickets.pdf", ContentType: "application/pdf", Content: "JVBERi0xLjQ="}}
	report, err := f.svc.SendTicket(ctx, 5, &TicketContent{Subject: "Tickets", Body: "attached", Attachments: atts})
	require.NoError(t, err)

	assert.Equal(t, SendOutcomeFull, report.Outcome)
	require.Len(t, f.email.lastAttachments, 1)
	assert.Equal(t, "tickets.pdf", f.email.lastAttachments[0].Filename)
}

func TestDeliveryService_Retry_ResendsStoredDocument(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: true})
	ctx := context.Background()

	f.messageRepo.EXPECT().GetByID(ctx, int64(7)).Return(&models.Message{
		ID:           7,
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+48601234567",
		Content:      "Your tickets",
		Status:       models.MessageStatusFailed,
		RetryCount:   1,
		TemplateVars: sql.NullString{String: `{"url":"https://tix.example.com/t/abc123.pdf","name":"tickets.pdf"}`, Valid: true},
	}, nil)
	f.messageRepo.EXPECT().MarkSent(ctx, int64(7), gomock.Any()).Return(nil)

	result, err := f.svc.Retry(ctx, 7)
	require.NoError(t, err)

	assert.True(t, result.OK)
	assert.Equal(t, []string{"https://tix.example.com/t/abc123.pdf"}, f.whatsapp.sentDocuments)
	assert.Empty(t, f.whatsapp.sentTexts)
}

func TestDeliveryService_Retry_ExhaustedIsRejected(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()

	f.messageRepo.EXPECT().GetByID(ctx, int64(8)).Return(&models.Message{
		ID:         8,
		Channel:    models.ChannelSMS,
		Status:     models.MessageStatusFailed,
		RetryCount: 3,
	}, nil)

	_, err := f.svc.Retry(ctx, 8)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestDeliveryService_Retry_DeliveredIsRejected(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()

	f.messageRepo.EXPECT().GetByID(ctx, int64(9)).Return(&models.Message{
		ID:      9,
		Channel: models.ChannelEmail,
		Status:  models.MessageStatusDelivered,
	}, nil)

	_, err := f.svc.Retry(ctx, 9)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestDeliveryService_Retry_SuccessSetsTicketSentOnBooking(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: true})
	ctx := context.Background()

	f.messageRepo.EXPECT().GetByID(ctx, int64(14)).Return(&models.Message{
		ID:         14,
		BookingID:  sql.NullInt64{Int64: 5, Valid: true},
		Channel:    models.ChannelSMS,
		Recipient:  "+48601234567",
		Content:    "Your tickets",
		Status:     models.MessageStatusFailed,
		RetryCount: 1,
	}, nil)
	f.messageRepo.EXPECT().MarkSent(ctx, int64(14), "sms-+48601234567").Return(nil)
	// The booking missed its timestamp when every first attempt failed;
	// the landed retry supplies it.
	f.bookingRepo.EXPECT().MarkTicketSent(ctx, int64(5), gomock.Any()).Return(true, nil)

	result, err := f.svc.Retry(ctx, 14)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestDeliveryService_SendManual_TemplateRendersAndIsRecorded(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{capable: true})
	ctx := context.Background()

	f.messageRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, m *models.Message) (int64, error) {
			assert.Equal(t, "ticket_ready_notice", m.TemplateName.String)
			assert.Contains(t, m.Content, "Anna, your Old Town Walk tickets")
			assert.Contains(t, m.TemplateVars.String, `"customer_name":"Anna"`)
			return 31, nil
		})
	f.messageRepo.EXPECT().MarkSent(ctx, int64(31), "wa-+48601234567").Return(nil)

	result, err := f.svc.SendManual(ctx, &ManualSend{
		Recipient: "+48 601 234 567",
		Channel:   models.ChannelWhatsApp,
		Template:  "ticket_ready_notice",
		TemplateVars: map[string]string{
			"customer_name": "Anna",
			"tour_name":     "Old Town Walk",
		},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, []string{"+48601234567"}, f.whatsapp.sentTexts)
	assert.Empty(t, f.whatsapp.sentDocuments)
}

func TestDeliveryService_SendManual_UnknownTemplateIsRejected(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()

	_, err := f.svc.SendManual(ctx, &ManualSend{
		Recipient: "+48601234567",
		Channel:   models.ChannelSMS,
		Template:  "no_such_template",
	})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestDeliveryService_SendManual_RejectsImplausiblePhone(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})

	_, err := f.svc.SendManual(context.Background(), &ManualSend{
		Recipient: "12345",
		Channel:   models.ChannelSMS,
		Body:      "hi",
	})
	assert.Error(t, err)
}

func TestDeliveryService_SendManual_SMS(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()

	f.messageRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, m *models.Message) (int64, error) {
			assert.Equal(t, "+48601234567", m.Recipient)
			assert.False(t, m.BookingID.Valid)
			return 11, nil
		})
	f.messageRepo.EXPECT().MarkSent(ctx, int64(11), "sms-+48601234567").Return(nil)

	result, err := f.svc.SendManual(ctx, &ManualSend{
		Recipient: "+48 601 234 567",
		Channel:   models.ChannelSMS,
		Body:      "Your tour starts at 10:00",
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestDeliveryService_HandleStatusCallback(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	f.messageRepo.EXPECT().UpdateStatusByProviderID(ctx, "wm-1", models.MessageStatusDelivered, at).Return(nil)

	err := f.svc.HandleStatusCallback(ctx, "wm-1", models.MessageStatusDelivered, at)
	require.NoError(t, err)
}

func TestDeliveryService_HandleStatusCallback_RejectsUnknownStatus(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})

	err := f.svc.HandleStatusCallback(context.Background(), "wm-1", models.MessageStatus("bogus"), time.Now())
	assert.Error(t, err)
}

func TestDeliveryService_RetryAll_FiltersByChannel(t *testing.T) {
	f := newDeliveryFixture(t, &stubWhatsApp{})
	ctx := context.Background()
	ch := models.ChannelSMS

	f.messageRepo.EXPECT().GetRetryable(ctx, &ch, 3, 50).Return([]*models.Message{
		{ID: 1, Channel: models.ChannelSMS, Recipient: "+48601234567", Content: "x", Status: models.MessageStatusFailed, RetryCount: 1},
	}, nil)
	f.messageRepo.EXPECT().GetByID(ctx, int64(1)).Return(&models.Message{
		ID: 1, Channel: models.ChannelSMS, Recipient: "+48601234567", Content: "x",
		Status: models.MessageStatusFailed, RetryCount: 1,
	}, nil)
	f.messageRepo.EXPECT().MarkSent(ctx, int64(1), gomock.Any()).Return(nil)

	summary, err := f.svc.RetryAll(ctx, &ch)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
}
