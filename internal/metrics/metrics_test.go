package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LoanCreated()
	m.LoanCreated()
	m.LoanReturned()
	m.LoanRejected("insufficient_stock")
	m.PaymentCaptured(false)
	m.PaymentCaptured(true)
	m.PaymentCaptured(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoansCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoansReturned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoansRejected.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaymentsCaptured.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentsCaptured.WithLabelValues("false")))
}

func TestObserveGateway(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGateway("create_order", time.Now(), nil)
	m.ObserveGateway("create_order", time.Now(), errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.GatewayDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.LoanCreated()
		m.LoanReturned()
		m.LoanRejected("x")
		m.PaymentCreated()
		m.PaymentCaptured(true)
		m.PaymentReconciled()
		m.ObserveGateway("capture_order", time.Now(), nil)
	})
}
