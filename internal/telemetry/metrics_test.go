package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ValidationOutcome("confirmed")
	m.ValidationOutcome("degraded")
	m.ValidationOutcome("degraded")
	m.Login(true)
	m.Login(false)
	m.OTPStep("send", nil)
	m.OTPStep("verify", errors.New("bad code"))
	m.ContextOpened()
	m.ContextOpened()
	m.ContextClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("confirmed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpSteps.WithLabelValues("verify", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeContexts))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ValidationOutcome("confirmed")
		m.Login(true)
		m.OTPStep("send", nil)
		m.ContextOpened()
		m.ContextClosed()
	})
}
