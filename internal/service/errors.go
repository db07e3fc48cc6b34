package service

import "errors"

var (
	// ErrSyncInFlight is returned when a reconciliation run is requested
	// while a previous run is still active.
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrNoDeliveryChannel means the booking has neither a usable phone
	// number nor an email address.
	ErrNoDeliveryChannel = errors.New("no delivery channel available")

	// ErrNotRetryable means the record is not failed, or its retry count
	// has reached the cap.
	ErrNotRetryable = errors.New("record is not retryable")

	// ErrPermanentPayload marks validation failures that cannot succeed on
	// retry; webhook records failed with it are pinned non-retryable.
	ErrPermanentPayload = errors.New("permanent payload error")

	// ErrLinkExpired is returned when a short download link is past its
	// expiry.
	ErrLinkExpired = errors.New("download link expired")

	// ErrUnknownTemplate is returned for a template name outside the
	// catalog.
	ErrUnknownTemplate = errors.New("unknown message template")
)
