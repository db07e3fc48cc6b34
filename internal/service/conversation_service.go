package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

type conversationService struct {
	repo   repository.Repository
	logger *zap.Logger
}

// NewConversationService creates the two-way thread tracker.
func NewConversationService(repo repository.Repository, logger *zap.Logger) ConversationService {
	return &conversationService{
		repo:   repo,
		logger: logger,
	}
}

// RecordInbound files one customer reply. The conversation is found or
// created by (phone, channel), linked to a booking when the phone matches
// one, and the reply itself lands in the message audit trail.
func (s *conversationService) RecordInbound(ctx context.Context, in *InboundMessage) (*models.Conversation, error) {
	if !in.Channel.Valid() {
		return nil, fmt.Errorf("invalid channel: %s", in.Channel)
	}
	phone := NormalizePhone(in.From)
	if phone == "" {
		return nil, fmt.Errorf("sender phone is required")
	}
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	conv, err := s.findOrCreate(ctx, phone, in.Channel)
	if err != nil {
		return nil, err
	}

	if !conv.BookingID.Valid {
		s.tryLinkBooking(ctx, conv, phone)
	}

	msg := &models.Message{
		BookingID:  conv.BookingID,
		Channel:    in.Channel,
		Direction:  models.DirectionInbound,
		Recipient:  phone,
		Content:    in.Content,
		Status:     models.MessageStatusDelivered,
		ProviderID: sql.NullString{String: in.ProviderID, Valid: in.ProviderID != ""},
	}
	if _, err := s.repo.Message().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	if err := s.repo.Conversation().RecordInbound(ctx, conv.ID, at); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	return s.repo.Conversation().GetByID(ctx, conv.ID)
}

// NoteOutbound refreshes thread activity after a successful send. A send
// to a number with no conversation yet opens one, so the thread view shows
// outreach that never got a reply.
func (s *conversationService) NoteOutbound(ctx context.Context, phone string, ch models.Channel, at time.Time) error {
	phone = NormalizePhone(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}

	conv, err := s.findOrCreate(ctx, phone, ch)
	if err != nil {
		return err
	}
	return s.repo.Conversation().RecordOutbound(ctx, conv.ID, at)
}

func (s *conversationService) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.repo.Conversation().GetByID(ctx, id)
}

func (s *conversationService) List(ctx context.Context, status *models.ConversationStatus, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.Conversation().List(ctx, status, limit, offset)
}

// Messages returns the thread's history: every message to or from the
// conversation's phone number on its channel.
func (s *conversationService) Messages(ctx context.Context, id int64) ([]*models.Message, error) {
	conv, err := s.repo.Conversation().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.Message().List(ctx, repository.MessageFilter{Channel: &conv.Channel, Limit: 200})
	if err != nil {
		return nil, err
	}

	thread := make([]*models.Message, 0, len(all))
	for _, m := range all {
		if NormalizePhone(m.Recipient) == conv.PhoneNumber {
			thread = append(thread, m)
		}
	}
	return thread, nil
}

func (s *conversationService) MarkRead(ctx context.Context, id int64) error {
	return s.repo.Conversation().MarkRead(ctx, id)
}

func (s *conversationService) Archive(ctx context.Context, id int64) error {
	return s.repo.Conversation().SetStatus(ctx, id, models.ConversationStatusArchived)
}

func (s *conversationService) Reactivate(ctx context.Context, id int64) error {
	return s.repo.Conversation().SetStatus(ctx, id, models.ConversationStatusActive)
}

func (s *conversationService) findOrCreate(ctx context.Context, phone string, ch models.Channel) (*models.Conversation, error) {
	conv, err := s.repo.Conversation().GetByPhoneAndChannel(ctx, phone, ch)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	fresh := &models.Conversation{
		PhoneNumber: phone,
		Channel:     ch,
		Status:      models.ConversationStatusActive,
	}
	id, err := s.repo.Conversation().Create(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return s.repo.Conversation().GetByID(ctx, id)
}

// tryLinkBooking attaches the thread to the booking whose customer phone
// matches. Linking is best effort; a miss just leaves the thread unlinked.
func (s *conversationService) tryLinkBooking(ctx context.Context, conv *models.Conversation, phone string) {
	booking, err := s.repo.Booking().FindByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Booking lookup by phone failed", zap.Error(err))
		}
		return
	}

	if err := s.repo.Conversation().LinkBooking(ctx, conv.ID, booking.ID); err != nil {
		s.logger.Warn("Failed to link conversation to booking",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("booking_id", booking.ID),
			zap.Error(err),
		)
		return
	}
	conv.BookingID = sql.NullInt64{Int64: booking.ID, Valid: true}
}
