package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one registry per service so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	sessionsIssued  *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	purchases       *prometheus.CounterVec
	purchasedGrams  prometheus.Counter
	classifications *prometheus.CounterVec
	sessionsSwept   prometheus.Counter
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	constLabels := prometheus.Labels{"service": service}

	return &Metrics{
		registry: reg,
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests",
				Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2, 5},
				ConstLabels: constLabels,
			},
			[]string{"method", "route", "status"},
		),
		sessionsIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "sessions_issued_total",
				Help:        "Total number of session issue attempts",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "session_verifications_total",
				Help:        "Total number of session verifications by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome", "reason"},
		),
		purchases: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "purchases_total",
				Help:        "Total number of purchase attempts by result kind",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		purchasedGrams: f.NewCounter(
			prometheus.CounterOpts{
				Name:        "purchased_grams_total",
				Help:        "Grams of gold sold",
				ConstLabels: constLabels,
			},
		),
		classifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "classifications_total",
				Help:        "Total number of classified messages",
				ConstLabels: constLabels,
			},
			[]string{"source", "relevant"},
		),
		sessionsSwept: f.NewCounter(
			prometheus.CounterOpts{
				Name:        "sessions_swept_total",
				Help:        "Sessions deactivated by the expiry sweep",
				ConstLabels: constLabels,
			},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) SessionIssued(err error) {
	m.sessionsIssued.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) Verification(outcome, reason string) {
	m.verifications.WithLabelValues(outcome, reason).Inc()
}

// Purchase counts a purchase attempt; result is "completed" or an error kind.
func (m *Metrics) Purchase(result string, grams float64) {
	m.purchases.WithLabelValues(result).Inc()
	if grams > 0 {
		m.purchasedGrams.Add(grams)
	}
}

func (m *Metrics) Classification(source string, relevant bool) {
	m.classifications.WithLabelValues(source, strconv.FormatBool(relevant)).Inc()
}

func (m *Metrics) SessionsSwept(n int64) {
	m.sessionsSwept.Add(float64(n))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
