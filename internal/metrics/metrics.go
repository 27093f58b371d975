// Package metrics exposes the Prometheus counters, gauges, and histograms
// the rendezvous core emits, in the same promauto-vector shape the
// teacher's chat server uses for its own operational metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts every request the transport layer serves.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendezvous_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rendezvous_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BundleVerificationFailuresTotal counts SPK/OTK signature rejections.
	BundleVerificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendezvous_bundle_verification_failures_total",
			Help: "Total number of bundle signature verification failures",
		},
		[]string{"operation"},
	)

	// OTKPoolExhaustedTotal counts fetches that returned no OTK because
	// the pool was empty.
	OTKPoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_otk_pool_exhausted_total",
			Help: "Total number of bundle fetches that found an empty one-time prekey pool",
		},
	)

	// OTKsRemaining tracks the live pool size per identity.
	OTKsRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rendezvous_otks_remaining",
			Help: "Number of unused one-time prekeys remaining per identity",
		},
		[]string{"identity"},
	)

	// MailboxDepth tracks how many messages are queued per recipient.
	MailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rendezvous_mailbox_depth",
			Help: "Number of messages currently queued per recipient",
		},
		[]string{"recipient"},
	)

	// MessagesDeliveredTotal counts deliveries by path: immediate (live
	// channel) vs enqueued (mailbox fallback).
	MessagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendezvous_messages_delivered_total",
			Help: "Total number of messages delivered, by delivery path",
		},
		[]string{"path"}, // immediate, enqueued
	)

	// SecurityEventsTotal counts SECURITY-tagged log lines emitted by
	// internal/rendezvouslog.
	SecurityEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_security_events_total",
			Help: "Total number of security-relevant events logged",
		},
	)
)

// MetricsMiddleware wraps an HTTP handler, recording request count and
// latency the same way the teacher's MetricsMiddleware does.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBundleVerificationFailure records a rejected SPK or OTK batch
// signature for the named operation ("register_prekey_bundle" or
// "publish_otk_bundle").
func RecordBundleVerificationFailure(operation string) {
	BundleVerificationFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordMessageDelivered records a successful delivery on path
// ("immediate" or "enqueued").
func RecordMessageDelivered(path string) {
	MessagesDeliveredTotal.WithLabelValues(path).Inc()
}
