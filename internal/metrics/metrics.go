// Package metrics declares the prometheus instruments for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics.
type Metrics struct {
	WebhooksReceived   prometheus.Counter
	WebhooksProcessed  *prometheus.CounterVec
	WebhooksRejected   prometheus.Counter
	SubBookingsIgnored prometheus.Counter
	BookingsUpserted   prometheus.Counter
	BookingsCancelled  prometheus.Counter
	MessagesAttempted  *prometheus.CounterVec
	SyncRuns           *prometheus.CounterVec
	UpstreamCallTime   prometheus.Histogram
}

// NewMetrics registers the instruments on the given registerer. Passing
// prometheus.NewRegistry in tests keeps registrations isolated.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "The total number of accepted inbound webhooks",
		}),
		WebhooksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_processed_total",
			Help:      "Webhook processing outcomes",
		}, []string{"result"}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_rejected_total",
			Help:      "Inbound webhooks rejected for a bad or missing signature",
		}),
		SubBookingsIgnored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sub_bookings_ignored_total",
			Help:      "Product sub-bookings skipped because the product is not eligible",
		}),
		BookingsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_upserted_total",
			Help:      "Booking upserts applied from webhooks and reconciliation",
		}),
		BookingsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_cancelled_total",
			Help:      "Bookings soft-deleted after an upstream cancellation",
		}),
		MessagesAttempted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_attempted_total",
			Help:      "Delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Reconciliation runs by result",
		}, []string{"result"}),
		UpstreamCallTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_seconds",
			Help:      "Time spent on upstream reservation API calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
