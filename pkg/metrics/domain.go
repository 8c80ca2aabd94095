package metrics

import "github.com/prometheus/client_golang/prometheus"

// DomainMetrics counts order-processing outcomes that operators alert on.
type DomainMetrics struct {
	inventoryFailures *prometheus.CounterVec
	gatewayAttempts   *prometheus.CounterVec
	refundsSettled    *prometheus.CounterVec
	compensations     *prometheus.CounterVec
}

// NewDomainMetrics registers the domain collectors on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	inventoryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "operation_failures_total",
		Help:      "Rejected inventory mutations by operation and error code.",
	}, []string{"operation", "code"})
	gatewayAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "attempts_total",
		Help:      "Payment gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	refundsSettled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "refunds_total",
		Help:      "Refund settlements by final request status.",
	}, []string{"status"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "compensations_total",
		Help:      "Checkout reservation rollbacks by result.",
	}, []string{"result"})
	reg.MustRegister(inventoryFailures, gatewayAttempts, refundsSettled, compensations)
	return &DomainMetrics{
		inventoryFailures: inventoryFailures,
		gatewayAttempts:   gatewayAttempts,
		refundsSettled:    refundsSettled,
		compensations:     compensations,
	}
}

func (m *DomainMetrics) IncInventoryFailure(operation, code string) {
	if m == nil || m.inventoryFailures == nil {
		return
	}
	m.inventoryFailures.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

func (m *DomainMetrics) IncGatewayAttempt(operation, outcome string) {
	if m == nil || m.gatewayAttempts == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) IncRefundSettled(status string) {
	if m == nil || m.refundsSettled == nil {
		return
	}
	m.refundsSettled.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *DomainMetrics) IncCompensation(result string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(result)).Inc()
}
