package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "labdesk"

// Metrics groups the desk's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	LoansCreated     prometheus.Counter
	LoansReturned    prometheus.Counter
	LoansRejected    *prometheus.CounterVec
	PaymentsCreated  prometheus.Counter
	PaymentsCaptured *prometheus.CounterVec
	PaymentsRepaired prometheus.Counter
	GatewayDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_created_total",
			Help:      "Loans created.",
		}),
		LoansReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_returned_total",
			Help:      "Loans returned.",
		}),
		LoansRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loan_rejections_total",
			Help:      "Loan operations rejected, by error code.",
		}, []string{"code"}),
		PaymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fine_payments_created_total",
			Help:      "Fine payments recorded as PENDING.",
		}),
		PaymentsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fine_payments_captured_total",
			Help:      "Gateway captures, by whether a local row was updated.",
		}, []string{"recorded"}),
		PaymentsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fine_payments_reconciled_total",
			Help:      "Fine payments created or promoted by reconciliation.",
		}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(
		m.LoansCreated,
		m.LoansReturned,
		m.LoansRejected,
		m.PaymentsCreated,
		m.PaymentsCaptured,
		m.PaymentsRepaired,
		m.GatewayDuration,
	)
	return m
}

func (m *Metrics) LoanCreated() {
	if m != nil {
		m.LoansCreated.Inc()
	}
}

func (m *Metrics) LoanReturned() {
	if m != nil {
		m.LoansReturned.Inc()
	}
}

func (m *Metrics) LoanRejected(code string) {
	if m != nil {
		m.LoansRejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) PaymentCreated() {
	if m != nil {
		m.PaymentsCreated.Inc()
	}
}

func (m *Metrics) PaymentCaptured(recorded bool) {
	if m == nil {
		return
	}
	label := "false"
	if recorded {
		label = "true"
	}
	m.PaymentsCaptured.WithLabelValues(label).Inc()
}

func (m *Metrics) PaymentReconciled() {
	if m != nil {
		m.PaymentsRepaired.Inc()
	}
}

func (m *Metrics) ObserveGateway(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
