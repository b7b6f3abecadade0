package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session core's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	validations    *prometheus.CounterVec
	logins         *prometheus.CounterVec
	otpSteps       *prometheus.CounterVec
	activeContexts prometheus.Gauge
}

// NewMetrics registers all instruments on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "session_validations_total",
			Help:      "Session validation cycles by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "session_logins_total",
			Help:      "Store login attempts by result.",
		}, []string{"result"}),
		otpSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "registration_otp_steps_total",
			Help:      "OTP registration requests by step and result.",
		}, []string{"step", "result"}),
		activeContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carebook",
			Name:      "session_contexts",
			Help:      "Session contexts currently held in memory.",
		}),
	}
	m.registry.MustRegister(m.validations, m.logins, m.otpSteps, m.activeContexts)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ValidationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Login(applied bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "dropped"
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) OTPStep(step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.otpSteps.WithLabelValues(step, result).Inc()
}

func (m *Metrics) ContextOpened() {
	if m == nil {
		return
	}
	m.activeContexts.Inc()
}

func (m *Metrics) ContextClosed() {
	if m == nil {
		return
	}
	m.activeContexts.Dec()
}

// ValidationCounter returns the counter behind one validation outcome
func (m *Metrics) ValidationCounter(outcome string) prometheus.Counter {
	return m.validations.WithLabelValues(outcome)
}

// ContextGauge returns the live session context gauge
func (m *Metrics) ContextGauge() prometheus.Gauge {
	return m.activeContexts
}
