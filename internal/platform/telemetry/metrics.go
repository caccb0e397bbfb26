package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes used as metric labels.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Metrics exposes counters and histograms for the HTTP surface and the
// booking write path. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	bookingsTotal   *prometheus.CounterVec
	bookingLatency  *prometheus.HistogramVec
	lockWait        prometheus.Histogram
	notifications   *prometheus.CounterVec
	slotsGenerated  prometheus.Histogram
}

// NewMetrics creates and registers the collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carebook",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served",
		}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking write operations by outcome",
		}, []string{"operation", "outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of booking write operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-practitioner booking lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "notification",
			Name:      "dispatched_total",
			Help:      "Booking notifications by event and delivery status",
		}, []string{"event", "status"}),
		slotsGenerated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "availability",
			Name:      "slots_per_query",
			Help:      "Candidate slots returned per slot query",
			Buckets:   prometheus.LinearBuckets(0, 8, 8),
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestDuration, m.activeRequests, m.bookingsTotal,
		m.bookingLatency, m.lockWait, m.notifications, m.slotsGenerated)
	return m
}

func (m *Metrics) ObserveBooking(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
	m.bookingLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveNotification(event, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, status).Inc()
}

func (m *Metrics) ObserveSlots(n int) {
	if m == nil {
		return
	}
	m.slotsGenerated.Observe(float64(n))
}

// Middleware records request latency by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requestDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition for g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
