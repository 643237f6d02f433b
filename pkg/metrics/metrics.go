// Package metrics defines the Prometheus collectors for the risk oracle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AssessmentRequests counts assessment submissions by outcome (ok/error).
var AssessmentRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainguard_assessment_requests_total",
		Help: "Total assessment requests submitted to the compute provider",
	},
	[]string{"outcome"},
)

// Fulfillments counts fulfillment callbacks by outcome
// (success/provider_error/decode_error/unknown_request/expired).
var Fulfillments = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainguard_fulfillments_total",
		Help: "Total fulfillment callbacks processed by outcome",
	},
	[]string{"outcome"},
)

// PendingRequests tracks the number of in-flight assessment requests.
var PendingRequests = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "chainguard_pending_requests",
		Help: "Number of assessment requests awaiting fulfillment",
	},
)

// FulfillmentLatency records the submit-to-fulfillment round trip.
var FulfillmentLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "chainguard_fulfillment_latency_seconds",
		Help:    "Latency in seconds between request submission and fulfillment",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	},
)

// StaleRefreshes counts re-requests triggered by the staleness monitor.
var StaleRefreshes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "chainguard_stale_refreshes_total",
		Help: "Total assessment re-requests issued by the staleness monitor",
	},
)

func init() {
	prometheus.MustRegister(AssessmentRequests, Fulfillments)
	prometheus.MustRegister(PendingRequests, FulfillmentLatency, StaleRefreshes)
}
