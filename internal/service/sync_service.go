package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

type syncService struct {
	repo     repository.Repository
	bookings BookingService
	client   bokun.Client
	breaker  *CircuitBreaker
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	inFlight atomic.Bool
}

// NewSyncService creates the reconciliation engine.
func NewSyncService(
	repo repository.Repository,
	bookings BookingService,
	client bokun.Client,
	breaker *CircuitBreaker,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) SyncService {
	return &syncService{
		repo:     repo,
		bookings: bookings,
		client:   client,
		breaker:  breaker,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

func (s *syncService) InFlight() bool {
	return s.inFlight.Load()
}

// Run executes one reconciliation pass. The upstream fetch failing aborts
// the run; every per-record failure after that is soft and collected so one
// bad booking cannot starve the rest.
func (s *syncService) Run(ctx context.Context, full bool) (*SyncSummary, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer s.inFlight.Store(false)

	start := time.Now().UTC()
	summary := &SyncSummary{StartedAt: start}

	seen, err := s.upsertUpcoming(ctx, summary)
	if err != nil {
		s.metrics.SyncRuns.WithLabelValues("failure").Inc()
		return nil, err
	}

	s.sweepCancellations(ctx, summary, seen)
	s.enrich(ctx, summary, full)

	summary.Duration = time.Since(start)
	s.metrics.SyncRuns.WithLabelValues("success").Inc()

	s.logger.Info("Sync run finished",
		zap.Bool("full", full),
		zap.Int("fetched", summary.Fetched),
		zap.Int("upserted", summary.Upserted),
		zap.Int("created", summary.Created),
		zap.Int("ignored", summary.Ignored),
		zap.Int("cancelled", summary.Cancelled),
		zap.Int("enriched", summary.Enriched),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// upsertUpcoming pulls the full upstream upcoming-booking set and merges
// every eligible sub-booking. Returns the set of confirmation codes seen so
// the cancellation sweep can skip them.
func (s *syncService) upsertUpcoming(ctx context.Context, summary *SyncSummary) (map[string]struct{}, error) {
	var results []bokun.SearchResult
	err := s.upstream(ctx, func() error {
		var err error
		results, err = s.client.SearchUpcomingBookings(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upstream booking search failed: %w", err)
	}

	seen := make(map[string]struct{})
	for _, parent := range results {
		customerName := parent.Customer.DisplayName()

		for i := range parent.ProductBookings {
			pb := &parent.ProductBookings[i]
			summary.Fetched++

			if !s.cfg.Bokun.IsEligibleProduct(pb.Product.ID) {
				summary.Ignored++
				continue
			}

			code := pb.ConfirmationCode
			if code == "" {
				code = parent.ConfirmationCode
			}
			seen[code] = struct{}{}

			created, err := s.bookings.ApplyProductBooking(ctx, parent.ConfirmationCode, customerName, pb)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("upsert %s: %v", code, err))
				continue
			}
			summary.Upserted++
			if created {
				summary.Created++
			}
		}
	}

	return seen, nil
}

// sweepCancellations checks every active future booking that the upstream
// search no longer returned. A booking is cancelled only on an explicit
// upstream CANCELLED status; a fetch error is never treated as evidence.
func (s *syncService) sweepCancellations(ctx context.Context, summary *SyncSummary, seen map[string]struct{}) {
	codes, err := s.repo.Booking().ActiveFutureCodes(ctx, time.Now().UTC())
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("active code listing: %v", err))
		return
	}

	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("sweep interrupted: %v", ctx.Err()))
			return
		}

		details, err := s.fetchBooking(ctx, code)
		if err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("cancellation check %s: %v", code, err))
			continue
		}

		if !details.IsCancelled() {
			continue
		}

		cancelled, err := s.bookings.CancelByCode(ctx, code, time.Now().UTC())
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("cancel %s: %v", code, err))
			continue
		}
		if cancelled {
			summary.Cancelled++
		}
	}
}

// enrich backfills detail fields for bookings still missing them. Regular
// runs are batch-limited so one pass cannot monopolize the upstream quota;
// a full run lifts the limit.
func (s *syncService) enrich(ctx context.Context, summary *SyncSummary, full bool) {
	limit := s.cfg.Sync.EnrichmentLimit
	if full {
		limit = 0
	}

	pending, err := s.repo.Booking().NeedingEnrichment(ctx, limit)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("enrichment listing: %v", err))
		return
	}

	for _, b := range pending {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("enrichment interrupted: %v", ctx.Err()))
			return
		}

		details, err := s.fetchBooking(ctx, b.BokunBookingID)
		if err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("enrichment fetch %s: %v", b.BokunBookingID, err))
			continue
		}

		enrichment := s.buildEnrichment(b, details)
		if err := s.repo.Booking().SaveEnrichment(ctx, b.BokunBookingID, enrichment); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("enrichment save %s: %v", b.BokunBookingID, err))
			continue
		}
		summary.Enriched++
	}
}

func (s *syncService) buildEnrichment(b *models.Booking, details *bokun.BookingDetails) *repository.BookingEnrichment {
	sub := matchSubBooking(b, details)

	enrichment := &repository.BookingEnrichment{
		Participants: []models.Participant{},
		Channel:      details.BookingChannel.Title,
		Email:        details.Customer.Email,
		Phone:        details.Customer.PhoneNumber,
	}

	if sub != nil {
		extraction := bokun.ExtractParticipants(sub)
		enrichment.Participants = extraction.Participants
		enrichment.HasAudioGuide = s.audioGuideEligible(sub)

		if extraction.Conflicting {
			s.logger.Warn("Participant shapes disagree",
				zap.String("confirmation_code", b.BokunBookingID),
				zap.String("shape", extraction.Shape),
			)
		}
		if len(extraction.Participants) > 0 && len(extraction.Participants) < b.Pax {
			s.logger.Warn("Fewer participant names than seats",
				zap.String("confirmation_code", b.BokunBookingID),
				zap.Int("names", len(extraction.Participants)),
				zap.Int("pax", b.Pax),
			)
		}
	}

	return enrichment
}

// audioGuideEligible reports whether the sub-booking was sold with the
// audio guide add-on. The rate code must match, and when an audio-eligible
// product is configured the flag is confined to that product.
func (s *syncService) audioGuideEligible(sub *bokun.ProductBookingDetails) bool {
	cfg := &s.cfg.Bokun
	if cfg.AudioGuideRateCode == "" || !strings.EqualFold(sub.Rate.Code, cfg.AudioGuideRateCode) {
		return false
	}
	return cfg.AudioGuideProductID == 0 || sub.Product.ID == cfg.AudioGuideProductID
}

// matchSubBooking finds the detail record for this booking row. The stored
// confirmation code usually names the sub-booking directly; fall back to
// product ID, then to a sole sub-booking.
func matchSubBooking(b *models.Booking, details *bokun.BookingDetails) *bokun.ProductBookingDetails {
	for i := range details.ProductBookings {
		if details.ProductBookings[i].ConfirmationCode == b.BokunBookingID {
			return &details.ProductBookings[i]
		}
	}
	for i := range details.ProductBookings {
		if details.ProductBookings[i].Product.ID == b.ProductID {
			return &details.ProductBookings[i]
		}
	}
	if len(details.ProductBookings) == 1 {
		return &details.ProductBookings[0]
	}
	return nil
}

func (s *syncService) fetchBooking(ctx context.Context, code string) (*bokun.BookingDetails, error) {
	var details *bokun.BookingDetails
	err := s.upstream(ctx, func() error {
		var err error
		details, err = s.client.GetBooking(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// upstream runs one API call through the breaker and records its latency.
func (s *syncService) upstream(ctx context.Context, fn func() error) error {
	start := time.Now()
	defer func() {
		s.metrics.UpstreamCallTime.Observe(time.Since(start).Seconds())
	}()

	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(ctx, fn)
}
