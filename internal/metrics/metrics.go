package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "competition"

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	EmailsProcessed       *prometheus.CounterVec
	NotificationsEnqueued *prometheus.CounterVec
	NotificationsSkipped  *prometheus.CounterVec
	Finalizations         *prometheus.CounterVec
	AttemptsStarted       prometheus.Counter
	RequestCounter        *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
}

// New registers collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		EmailsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "email",
				Name:      "processed_total",
				Help:      "Emails processed by the dispatch worker, by outcome",
			},
			[]string{"outcome"}, // sent, retry, failed
		),
		NotificationsEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "enqueued_total",
				Help:      "Notification rows created, by type",
			},
			[]string{"type"},
		),
		NotificationsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "skipped_past_total",
				Help:      "Notification events skipped because their send time already passed",
			},
			[]string{"type"},
		),
		Finalizations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "competitions",
				Name:      "finalize_total",
				Help:      "Finalize calls, by result",
			},
			[]string{"result"}, // completed, resumed, noop, error
		),
		AttemptsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "started_total",
			Help:      "Attempts started",
		}),
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) EmailOutcome(outcome string) {
	if m == nil {
		return
	}
	m.EmailsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotificationEnqueued(typ string) {
	if m == nil {
		return
	}
	m.NotificationsEnqueued.WithLabelValues(typ).Inc()
}

func (m *Metrics) NotificationSkipped(typ string) {
	if m == nil {
		return
	}
	m.NotificationsSkipped.WithLabelValues(typ).Inc()
}

func (m *Metrics) Finalize(result string) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(result).Inc()
}

func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.AttemptsStarted.Inc()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument wraps h with request count and duration collectors.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
