package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/repository"
)

type webhookService struct {
	repo     repository.Repository
	bookings BookingService
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWebhookService creates the webhook ingestion service.
func NewWebhookService(repo repository.Repository, bookings BookingService, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) WebhookService {
	return &webhookService{
		repo:     repo,
		bookings: bookings,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Ingest persists the delivery before touching it, then processes the
// stored record. A processing failure is not surfaced to the caller: the
// row is marked failed and picked up by the retry job, and the upstream
// gets its acknowledgement either way.
func (s *webhookService) Ingest(ctx context.Context, body []byte, headers http.Header) (*ProcessOutcome, error) {
	s.metrics.WebhooksReceived.Inc()

	logEntry := &models.WebhookLog{
		EventType: peekAction(body),
		Payload:   string(body),
		Headers:   flattenHeaders(headers),
		Status:    models.WebhookStatusPending,
	}
	if code := peekConfirmationCode(body); code != "" {
		logEntry.BokunBookingID = sql.NullString{String: code, Valid: true}
	}

	id, err := s.repo.WebhookLog().Create(ctx, logEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to log webhook: %w", err)
	}

	outcome, err := s.process(ctx, string(body))
	if err != nil {
		s.recordFailure(ctx, id, err)
		return &ProcessOutcome{}, nil
	}

	if err := s.repo.WebhookLog().MarkProcessed(ctx, id); err != nil {
		s.logger.Error("Failed to mark webhook processed", zap.Int64("id", id), zap.Error(err))
	}
	s.metrics.WebhooksProcessed.WithLabelValues("success").Inc()

	return outcome, nil
}

func (s *webhookService) Retry(ctx context.Context, id int64) (*ProcessOutcome, error) {
	logEntry, err := s.repo.WebhookLog().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !logEntry.Retryable(s.cfg.Webhook.MaxRetries) {
		return nil, ErrNotRetryable
	}

	if err := s.repo.WebhookLog().Reset(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to reset webhook log: %w", err)
	}

	outcome, err := s.process(ctx, logEntry.Payload)
	if err != nil {
		s.recordFailure(ctx, id, err)
		return nil, err
	}

	if err := s.repo.WebhookLog().MarkProcessed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	s.metrics.WebhooksProcessed.WithLabelValues("success").Inc()

	return outcome, nil
}

func (s *webhookService) RetryAll(ctx context.Context) (*RetrySummary, error) {
	retryable, err := s.repo.WebhookLog().GetRetryable(ctx, s.cfg.Webhook.MaxRetries, s.cfg.Webhook.RetryBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load retryable webhooks: %w", err)
	}

	summary := &RetrySummary{Attempted: len(retryable)}
	for _, entry := range retryable {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		result := RetryResult{ID: entry.ID}
		if _, err := s.Retry(ctx, entry.ID); err != nil {
			result.Error = err.Error()
			summary.Failed++
		} else {
			result.OK = true
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, result)
	}

	if summary.Attempted > 0 {
		s.logger.Info("Webhook retry pass finished",
			zap.Int("attempted", summary.Attempted),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
		)
	}

	return summary, nil
}

func (s *webhookService) List(ctx context.Context, status *models.WebhookStatus, limit, offset int) ([]*models.WebhookLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.WebhookLog().List(ctx, status, limit, offset)
}

func (s *webhookService) Stats(ctx context.Context) (*models.WebhookStats, error) {
	return s.repo.WebhookLog().Stats(ctx, s.cfg.Webhook.MaxRetries)
}

func (s *webhookService) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	deleted, err := s.repo.WebhookLog().DeleteOlderThan(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up webhook logs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Webhook logs cleaned up", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// process applies one stored payload. Malformed payloads fail permanently;
// everything else is retryable.
func (s *webhookService) process(ctx context.Context, payload string) (*ProcessOutcome, error) {
	var p bokun.WebhookPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanentPayload, err)
	}
	if p.ConfirmationCode == "" && len(p.ProductBookings) == 0 {
		return nil, fmt.Errorf("%w: payload carries no confirmation code", ErrPermanentPayload)
	}

	if s.isCancellation(p.Action) {
		return s.processCancellation(ctx, &p)
	}

	outcome := &ProcessOutcome{}
	customerName := p.Customer.DisplayName()

	// One failing sub-booking must not starve its siblings: every item is
	// attempted, and the log entry fails as a whole only when any item
	// failed. The upserts are idempotent, so the retry re-applies all of
	// them safely.
	var failures []string
	for i := range p.ProductBookings {
		pb := &p.ProductBookings[i]
		if !s.cfg.Bokun.IsEligibleProduct(pb.Product.ID) {
			s.metrics.SubBookingsIgnored.Inc()
			outcome.Ignored++
			continue
		}

		if _, err := s.bookings.ApplyProductBooking(ctx, p.ConfirmationCode, customerName, pb); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pb.ConfirmationCode, err))
			continue
		}
		outcome.Count++
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("%d sub-booking(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return outcome, nil
}

// processCancellation soft-deletes the bookings the payload names. An
// unknown confirmation code is still a success: the cancellation may
// predate the first sync, or target an ineligible product.
func (s *webhookService) processCancellation(ctx context.Context, p *bokun.WebhookPayload) (*ProcessOutcome, error) {
	codes := make([]string, 0, len(p.ProductBookings)+1)
	for _, pb := range p.ProductBookings {
		if pb.ConfirmationCode != "" {
			codes = append(codes, pb.ConfirmationCode)
		}
	}
	if len(codes) == 0 && p.ConfirmationCode != "" {
		codes = append(codes, p.ConfirmationCode)
	}

	outcome := &ProcessOutcome{}
	now := time.Now().UTC()

	var failures []string
	for _, code := range codes {
		cancelled, err := s.bookings.CancelByCode(ctx, code, now)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", code, err))
			continue
		}
		if cancelled {
			outcome.Cancelled++
		} else {
			s.logger.Debug("Cancellation for unknown booking ignored", zap.String("confirmation_code", code))
		}
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("%d cancellation(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return outcome, nil
}

func (s *webhookService) isCancellation(action string) bool {
	for _, ev := range s.cfg.Webhook.CancellationEvents {
		if strings.EqualFold(action, ev) {
			return true
		}
	}
	return false
}

func (s *webhookService) recordFailure(ctx context.Context, id int64, procErr error) {
	permanent := errors.Is(procErr, ErrPermanentPayload)
	if err := s.repo.WebhookLog().MarkFailed(ctx, id, procErr.Error(), permanent, s.cfg.Webhook.MaxRetries); err != nil {
		s.logger.Error("Failed to mark webhook failed", zap.Int64("id", id), zap.Error(err))
	}
	s.metrics.WebhooksProcessed.WithLabelValues("failure").Inc()
	s.logger.Warn("Webhook processing failed",
		zap.Int64("id", id),
		zap.Bool("permanent", permanent),
		zap.Error(procErr),
	)
}

// peekAction pulls just the action field for the log record without
// committing to full payload validity.
func peekAction(body []byte) string {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Action == "" {
		return "UNKNOWN"
	}
	return probe.Action
}

func peekConfirmationCode(body []byte) string {
	var probe struct {
		ConfirmationCode string `json:"confirmationCode"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.ConfirmationCode
}

func flattenHeaders(h http.Header) string {
	if h == nil {
		return "{}"
	}
	flat := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			flat[strings.ToLower(k)] = v[0]
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(b)
}
