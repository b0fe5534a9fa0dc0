// Package metrics registers Prometheus instruments for the booking engine
// and the background sweeper.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes booking and sweeper health signals.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	bookingOutcomes *prometheus.CounterVec
	promotions      prometheus.Counter
	offerOutcomes   *prometheus.CounterVec
	sweeperJobRuns  *prometheus.CounterVec
	sweeperJobErrs  *prometheus.CounterVec
	sweeperJobTime  *prometheus.HistogramVec
	outboxDispatch  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "studiobook"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_http_requests_total",
		Help:        "HTTP requests by method, route and status.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "studiobook_http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	bookingOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_booking_outcomes_total",
		Help:        "Booking engine outcomes by result.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "studiobook_waitlist_promotions_total",
		Help:        "Waitlisted bookings promoted to confirmed seats.",
		ConstLabels: constLabels,
	})
	offerOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_waitlist_offer_outcomes_total",
		Help:        "Waitlist offer terminal states.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	sweeperJobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_sweeper_job_runs_total",
		Help:        "Sweeper job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	sweeperJobErrs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_sweeper_job_errors_total",
		Help:        "Sweeper job errors by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	sweeperJobTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "studiobook_sweeper_job_duration_seconds",
		Help:        "Sweeper job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"job"})
	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "studiobook_outbox_dispatch_total",
		Help:        "Outbox events dispatched by status.",
		ConstLabels: constLabels,
	}, []string{"status"})

	registerer.MustRegister(
		httpRequests,
		httpDuration,
		bookingOutcomes,
		promotions,
		offerOutcomes,
		sweeperJobRuns,
		sweeperJobErrs,
		sweeperJobTime,
		outboxDispatch,
	)

	return &Metrics{
		httpRequests:    httpRequests,
		httpDuration:    httpDuration,
		bookingOutcomes: bookingOutcomes,
		promotions:      promotions,
		offerOutcomes:   offerOutcomes,
		sweeperJobRuns:  sweeperJobRuns,
		sweeperJobErrs:  sweeperJobErrs,
		sweeperJobTime:  sweeperJobTime,
		outboxDispatch:  outboxDispatch,
	}
}

// IncHTTPRequest increments the request counter for a route.
func (m *Metrics) IncHTTPRequest(method, route, status string) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// ObserveHTTPDuration records request latency for a route.
func (m *Metrics) ObserveHTTPDuration(method, route string, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncBookingOutcome counts a booking engine result.
func (m *Metrics) IncBookingOutcome(outcome string) {
	if m == nil || m.bookingOutcomes == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(outcome).Inc()
}

// IncPromotion counts a waitlist promotion.
func (m *Metrics) IncPromotion() {
	if m == nil || m.promotions == nil {
		return
	}
	m.promotions.Inc()
}

// IncOfferOutcome counts a waitlist offer terminal state.
func (m *Metrics) IncOfferOutcome(outcome string) {
	if m == nil || m.offerOutcomes == nil {
		return
	}
	m.offerOutcomes.WithLabelValues(outcome).Inc()
}

// IncSweeperJobRun increments the run counter for a sweeper job.
func (m *Metrics) IncSweeperJobRun(job string) {
	if m == nil || m.sweeperJobRuns == nil {
		return
	}
	m.sweeperJobRuns.WithLabelValues(job).Inc()
}

// IncSweeperJobError increments the error counter for a sweeper job.
func (m *Metrics) IncSweeperJobError(job string) {
	if m == nil || m.sweeperJobErrs == nil {
		return
	}
	m.sweeperJobErrs.WithLabelValues(job).Inc()
}

// ObserveSweeperJobDuration records sweeper job latency.
func (m *Metrics) ObserveSweeperJobDuration(job string, duration time.Duration) {
	if m == nil || m.sweeperJobTime == nil {
		return
	}
	m.sweeperJobTime.WithLabelValues(job).Observe(duration.Seconds())
}

// IncOutboxDispatch counts a dispatched or failed outbox event.
func (m *Metrics) IncOutboxDispatch(status string) {
	if m == nil || m.outboxDispatch == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(status).Inc()
}
