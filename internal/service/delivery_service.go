package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/provider"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

const retryBatchSize = 50

// documentRef is stored alongside a message so a retry can re-send the
// original document, not just its caption.
type documentRef struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

type deliveryService struct {
	repo          repository.Repository
	selector      ChannelSelector
	whatsapp      provider.WhatsAppProvider
	sms           provider.SMSProvider
	email         provider.EmailProvider
	conversations ConversationService
	cfg           *config.Config
	metrics       *metrics.Metrics
	logger        *zap.Logger
	breakers      map[models.Channel]*CircuitBreaker
}

// NewDeliveryService creates the outbound delivery engine. Each channel
// gets its own circuit breaker so one degraded provider cannot block the
// others.
func NewDeliveryService(
	repo repository.Repository,
	selector ChannelSelector,
	whatsapp provider.WhatsAppProvider,
	sms provider.SMSProvider,
	email provider.EmailProvider,
	conversations ConversationService,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) DeliveryService {
	breakers := map[models.Channel]*CircuitBreaker{
		models.ChannelWhatsApp: NewCircuitBreaker("whatsapp", &cfg.Delivery.CircuitBreaker, logger),
		models.ChannelSMS:      NewCircuitBreaker("sms", &cfg.Delivery.CircuitBreaker, logger),
		models.ChannelEmail:    NewCircuitBreaker("email", &cfg.Delivery.CircuitBreaker, logger),
	}

	return &deliveryService{
		repo:          repo,
		selector:      selector,
		whatsapp:      whatsapp,
		sms:           sms,
		email:         email,
		conversations: conversations,
		cfg:           cfg,
		metrics:       m,
		logger:        logger,
		breakers:      breakers,
	}
}

// SendTicket delivers the rendered ticket on every planned channel. The
// channels run concurrently and independently: a WhatsApp outage must not
// hold back the email. The booking's ticket-sent timestamp is set on the
// first send that lands anything, and only then do first-delivery side
// effects fire.
func (s *deliveryService) SendTicket(ctx context.Context, bookingID int64, content *TicketContent) (*SendReport, error) {
	booking, err := s.repo.Booking().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Cancelled() {
		return nil, fmt.Errorf("booking %d is cancelled", bookingID)
	}

	plans, err := s.selector.Plan(ctx, booking)
	if err != nil {
		return nil, err
	}

	results := make([]ChannelResult, len(plans))
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan ChannelPlan) {
			defer wg.Done()
			results[i] = s.sendPlanned(ctx, booking, plan, content)
		}(i, plan)
	}
	wg.Wait()

	report := &SendReport{Results: results}
	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		report.Outcome = SendOutcomeFull
	case succeeded > 0:
		report.Outcome = SendOutcomePartial
	default:
		report.Outcome = SendOutcomeFailed
	}

	if succeeded > 0 {
		first, err := s.repo.Booking().MarkTicketSent(ctx, bookingID, time.Now().UTC())
		if err != nil {
			s.logger.Error("Failed to mark ticket sent", zap.Int64("booking_id", bookingID), zap.Error(err))
		}
		report.FirstDelivery = first
	}

	s.logger.Info("Ticket send finished",
		zap.Int64("booking_id", bookingID),
		zap.String("outcome", string(report.Outcome)),
		zap.Int("channels", len(results)),
		zap.Int("succeeded", succeeded),
	)

	return report, nil
}

// sendPlanned records and attempts one channel of a ticket send.
func (s *deliveryService) sendPlanned(ctx context.Context, booking *models.Booking, plan ChannelPlan, content *TicketContent) ChannelResult {
	result := ChannelResult{Channel: plan.Channel, NotificationOnly: plan.NotificationOnly}

	msg := s.buildTicketMessage(booking, plan, content)
	id, err := s.repo.Message().Create(ctx, msg)
	if err != nil {
		result.Error = fmt.Sprintf("failed to record message: %v", err)
		return result
	}
	result.MessageID = id
	msg.ID = id

	if plan.Channel == models.ChannelEmail {
		ctx = withAttachments(ctx, content.Attachments)
	}

	providerID, err := s.attempt(ctx, msg)
	if err != nil {
		s.noteFailure(ctx, msg, err)
		result.Error = err.Error()
		return result
	}

	s.noteSuccess(ctx, msg, providerID)
	result.OK = true
	result.ProviderID = providerID
	return result
}

func (s *deliveryService) buildTicketMessage(booking *models.Booking, plan ChannelPlan, content *TicketContent) *models.Message {
	msg := &models.Message{
		BookingID: sql.NullInt64{Int64: booking.ID, Valid: true},
		Channel:   plan.Channel,
		Direction: models.DirectionOutbound,
		Status:    models.MessageStatusPending,
		Content:   content.Body,
	}

	switch plan.Channel {
	case models.ChannelWhatsApp:
		msg.Recipient = NormalizePhone(booking.CustomerPhone.String)
		if content.DocumentURL != "" {
			ref, _ := json.Marshal(documentRef{URL: content.DocumentURL, Name: content.DocumentName})
			msg.TemplateVars = sql.NullString{String: string(ref), Valid: true}
		}
	case models.ChannelSMS:
		msg.Recipient = NormalizePhone(booking.CustomerPhone.String)
		if plan.NotificationOnly && content.SMSNotice != "" {
			msg.Content = content.SMSNotice
		}
	case models.ChannelEmail:
		msg.Recipient = booking.CustomerEmail.String
		msg.Subject = sql.NullString{String: content.Subject, Valid: content.Subject != ""}
	}

	return msg
}

type attachmentCtxKey struct{}

// withAttachments threads the one-shot attachment list to the attempt.
// Attachments are not persisted with the message; a retried email falls
// back to the body with the document link.
func withAttachments(ctx context.Context, atts []provider.Attachment) context.Context {
	if len(atts) == 0 {
		return ctx
	}
	return context.WithValue(ctx, attachmentCtxKey{}, atts)
}

func attachmentsFrom(ctx context.Context) []provider.Attachment {
	if atts, ok := ctx.Value(attachmentCtxKey{}).([]provider.Attachment); ok {
		return atts
	}
	return nil
}

func (s *deliveryService) SendManual(ctx context.Context, req *ManualSend) (*ChannelResult, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("invalid channel: %s", req.Channel)
	}
	if req.Recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if req.Template != "" {
		rendered, err := RenderTemplate(req.Template, req.TemplateVars)
		if err != nil {
			return nil, err
		}
		req.Body = rendered.Body
		if req.Subject == "" {
			req.Subject = rendered.Subject
		}
	}
	if req.Body == "" {
		return nil, fmt.Errorf("body is required")
	}

	recipient := req.Recipient
	if req.Channel != models.ChannelEmail {
		recipient = NormalizePhone(recipient)
		if !PlausiblePhone(recipient) {
			return nil, fmt.Errorf("recipient is not a dialable phone number")
		}
	}

	msg := &models.Message{
		Channel:   req.Channel,
		Direction: models.DirectionOutbound,
		Status:    models.MessageStatusPending,
		Recipient: recipient,
		Content:   req.Body,
		Subject:   sql.NullString{String: req.Subject, Valid: req.Subject != ""},
	}
	if req.BookingID > 0 {
		msg.BookingID = sql.NullInt64{Int64: req.BookingID, Valid: true}
	}
	if req.Template != "" {
		msg.TemplateName = sql.NullString{String: req.Template, Valid: true}
		if len(req.TemplateVars) > 0 {
			if vars, err := json.Marshal(req.TemplateVars); err == nil {
				msg.TemplateVars = sql.NullString{String: string(vars), Valid: true}
			}
		}
	}

	id, err := s.repo.Message().Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	msg.ID = id

	result := ChannelResult{Channel: req.Channel, MessageID: id}
	providerID, err := s.attempt(ctx, msg)
	if err != nil {
		s.noteFailure(ctx, msg, err)
		result.Error = err.Error()
		return &result, nil
	}

	s.noteSuccess(ctx, msg, providerID)
	result.OK = true
	result.ProviderID = providerID
	return &result, nil
}

func (s *deliveryService) Retry(ctx context.Context, messageID int64) (*ChannelResult, error) {
	msg, err := s.repo.Message().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Retryable(s.cfg.Delivery.MaxRetries) {
		return nil, ErrNotRetryable
	}

	result := ChannelResult{Channel: msg.Channel, MessageID: msg.ID}
	providerID, err := s.attempt(ctx, msg)
	if err != nil {
		s.noteFailure(ctx, msg, err)
		result.Error = err.Error()
		return &result, nil
	}

	s.noteSuccess(ctx, msg, providerID)
	result.OK = true
	result.ProviderID = providerID

	// The ticket-sent timestamp belongs to the first send that lands,
	// which may be a retry when every channel failed on the initial
	// attempt. The repository write is first-write-wins.
	if msg.BookingID.Valid {
		if _, err := s.repo.Booking().MarkTicketSent(ctx, msg.BookingID.Int64, time.Now().UTC()); err != nil {
			s.logger.Error("Failed to mark ticket sent",
				zap.Int64("booking_id", msg.BookingID.Int64), zap.Error(err))
		}
	}

	return &result, nil
}

func (s *deliveryService) RetryAll(ctx context.Context, channel *models.Channel) (*RetrySummary, error) {
	retryable, err := s.repo.Message().GetRetryable(ctx, channel, s.cfg.Delivery.MaxRetries, retryBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load retryable messages: %w", err)
	}

	summary := &RetrySummary{Attempted: len(retryable)}
	for _, msg := range retryable {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		result := RetryResult{ID: msg.ID}
		res, err := s.Retry(ctx, msg.ID)
		switch {
		case err != nil:
			result.Error = err.Error()
			summary.Failed++
		case !res.OK:
			result.Error = res.Error
			summary.Failed++
		default:
			result.OK = true
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary, nil
}

// HandleStatusCallback applies a provider delivery receipt. The repository
// enforces forward-only movement, so duplicate or out-of-order receipts
// fall through harmlessly.
func (s *deliveryService) HandleStatusCallback(ctx context.Context, providerID string, status models.MessageStatus, at time.Time) error {
	switch status {
	case models.MessageStatusQueued, models.MessageStatusSent, models.MessageStatusDelivered,
		models.MessageStatusRead, models.MessageStatusFailed:
	default:
		return fmt.Errorf("invalid callback status: %s", status)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.repo.Message().UpdateStatusByProviderID(ctx, providerID, status, at)
}

func (s *deliveryService) Get(ctx context.Context, id int64) (*models.Message, error) {
	return s.repo.Message().GetByID(ctx, id)
}

func (s *deliveryService) History(ctx context.Context, filter repository.MessageFilter) ([]*models.Message, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.repo.Message().List(ctx, filter)
}

func (s *deliveryService) HistoryForBooking(ctx context.Context, bookingID int64) ([]*models.Message, error) {
	return s.repo.Message().ListByBooking(ctx, bookingID)
}

func (s *deliveryService) BreakerStates() map[string]string {
	states := make(map[string]string, len(s.breakers))
	for ch, b := range s.breakers {
		states[string(ch)] = b.GetState()
	}
	return states
}

// attempt pushes one message through its channel's provider behind the
// channel breaker.
func (s *deliveryService) attempt(ctx context.Context, msg *models.Message) (string, error) {
	var providerID string
	err := s.breakers[msg.Channel].Execute(ctx, func() error {
		var err error
		providerID, err = s.dispatch(ctx, msg)
		return err
	})
	return providerID, err
}

func (s *deliveryService) dispatch(ctx context.Context, msg *models.Message) (string, error) {
	switch msg.Channel {
	case models.ChannelWhatsApp:
		// Document refs ride in template_vars without a template name;
		// templated sends store their render vars there instead.
		if msg.TemplateVars.Valid && !msg.TemplateName.Valid {
			var ref documentRef
			if err := json.Unmarshal([]byte(msg.TemplateVars.String), &ref); err == nil && ref.URL != "" {
				return s.whatsapp.SendDocument(ctx, msg.Recipient, msg.Content, ref.URL, ref.Name)
			}
		}
		return s.whatsapp.SendText(ctx, msg.Recipient, msg.Content)
	case models.ChannelSMS:
		return s.sms.Send(ctx, msg.Recipient, msg.Content)
	case models.ChannelEmail:
		return s.email.Send(ctx, msg.Recipient, msg.Subject.String, msg.Content, attachmentsFrom(ctx))
	default:
		return "", fmt.Errorf("unknown channel: %s", msg.Channel)
	}
}

func (s *deliveryService) noteSuccess(ctx context.Context, msg *models.Message, providerID string) {
	if err := s.repo.Message().MarkSent(ctx, msg.ID, providerID); err != nil {
		s.logger.Error("Failed to mark message sent", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	s.metrics.MessagesAttempted.WithLabelValues(string(msg.Channel), "success").Inc()

	if s.conversations != nil && msg.Channel != models.ChannelEmail {
		if err := s.conversations.NoteOutbound(ctx, msg.Recipient, msg.Channel, time.Now().UTC()); err != nil {
			s.logger.Warn("Failed to note outbound on conversation",
				zap.String("channel", string(msg.Channel)),
				zap.Error(err),
			)
		}
	}
}

func (s *deliveryService) noteFailure(ctx context.Context, msg *models.Message, sendErr error) {
	if err := s.repo.Message().MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
		s.logger.Error("Failed to mark message failed", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	s.metrics.MessagesAttempted.WithLabelValues(string(msg.Channel), "failure").Inc()
	s.logger.Warn("Message send failed",
		zap.Int64("message_id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.Error(sendErr),
	)
}
