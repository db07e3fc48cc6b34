package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

type bookingService struct {
	repo    repository.Repository
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewBookingService creates the booking service.
func NewBookingService(repo repository.Repository, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) BookingService {
	return &bookingService{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (s *bookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.Booking().GetByID(ctx, id)
}

func (s *bookingService) GetByBokunID(ctx context.Context, bokunBookingID string) (*models.Booking, error) {
	return s.repo.Booking().GetByBokunID(ctx, bokunBookingID)
}

func (s *bookingService) List(ctx context.Context, filter repository.BookingFilter) ([]*models.Booking, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.repo.Booking().List(ctx, filter)
}

func (s *bookingService) Create(ctx context.Context, b *models.Booking) (int64, error) {
	if b.BokunBookingID == "" {
		return 0, fmt.Errorf("confirmation code is required")
	}
	if b.Status == "" {
		b.Status = models.BookingStatusPendingTicket
	}
	if !b.Status.Valid() {
		return 0, fmt.Errorf("invalid booking status: %s", b.Status)
	}
	return s.repo.Booking().Create(ctx, b)
}

func (s *bookingService) Update(ctx context.Context, b *models.Booking) error {
	if !b.Status.Valid() {
		return fmt.Errorf("invalid booking status: %s", b.Status)
	}
	return s.repo.Booking().Update(ctx, b)
}

// ApplyProductBooking is the single merge path for upstream booking data.
// Both the webhook processor and the reconciliation engine funnel through
// it so the non-regression rules live in one place.
func (s *bookingService) ApplyProductBooking(ctx context.Context, confirmationCode, customerName string, pb *bokun.ProductBooking) (bool, error) {
	code := pb.ConfirmationCode
	if code == "" {
		code = confirmationCode
	}
	if code == "" {
		return false, fmt.Errorf("sub-booking has no confirmation code")
	}

	upsert := &repository.BookingUpsert{
		BokunBookingID: code,
		ProductID:      pb.Product.ID,
		ProductName:    pb.Product.Title,
		CustomerName:   customerName,
		TourDate:       pb.StartTime(),
		Pax:            pb.TotalParticipants,
	}

	created, err := s.repo.Booking().Upsert(ctx, upsert)
	if err != nil {
		return false, fmt.Errorf("failed to upsert booking %s: %w", code, err)
	}

	s.metrics.BookingsUpserted.Inc()
	s.logger.Debug("Booking upserted",
		zap.String("confirmation_code", code),
		zap.Int64("product_id", pb.Product.ID),
		zap.Int("pax", pb.TotalParticipants),
		zap.Bool("created", created),
	)

	return created, nil
}

func (s *bookingService) CancelByCode(ctx context.Context, bokunBookingID string, at time.Time) (bool, error) {
	cancelled, err := s.repo.Booking().Cancel(ctx, bokunBookingID, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking %s: %w", bokunBookingID, err)
	}
	if cancelled {
		s.metrics.BookingsCancelled.Inc()
		s.logger.Info("Booking cancelled", zap.String("confirmation_code", bokunBookingID))
	}
	return cancelled, nil
}

func (s *bookingService) SetTicketPurchased(ctx context.Context, id int64, reference string) error {
	if err := s.repo.Booking().SetTicketPurchased(ctx, id, reference); err != nil {
		return fmt.Errorf("failed to mark ticket purchased: %w", err)
	}
	s.logger.Info("Ticket purchased", zap.Int64("booking_id", id), zap.String("reference", reference))
	return nil
}

func (s *bookingService) PurgeCancelledBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.Booking().PurgeCancelledBefore(ctx, before)
}
