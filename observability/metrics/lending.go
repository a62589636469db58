package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operations    *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	lockDenials   *prometheus.CounterVec
	priceUpdates  *prometheus.CounterVec
	liquidations  prometheus.Counter
	healthFactor  *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_started_total",
				Help: "Count of started lending operations by action.",
			}, []string{"action"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_finished_total",
				Help: "Count of finished lending operations by action and outcome.",
			}, []string{"action", "outcome"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_compensations_total",
				Help: "Count of triggered saga compensations by action.",
			}, []string{"action"}),
			lockDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_lock_denials_total",
				Help: "Count of denied account lock acquisitions by action.",
			}, []string{"action"}),
			priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "oracle_price_updates_total",
				Help: "Count of accepted oracle price pushes by ticker.",
			}, []string{"ticker"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of committed liquidations.",
			}),
			healthFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_health_factor",
				Help: "Last observed health factor per tracked account.",
			}, []string{"account"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.outcomes,
			lendingRegistry.compensations,
			lendingRegistry.lockDenials,
			lendingRegistry.priceUpdates,
			lendingRegistry.liquidations,
			lendingRegistry.healthFactor,
		)
	})
	return lendingRegistry
}

// OperationStarted implements the market metrics sink.
func (m *LendingMetrics) OperationStarted(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

// OperationFinished implements the market metrics sink.
func (m *LendingMetrics) OperationFinished(op, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(op, outcome).Inc()
	if op == "liquidate" && outcome == "committed" {
		m.liquidations.Inc()
	}
}

// CompensationTriggered implements the market metrics sink.
func (m *LendingMetrics) CompensationTriggered(op string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(op).Inc()
}

// LockDenied records a refused account lock acquisition.
func (m *LendingMetrics) LockDenied(op string) {
	if m == nil {
		return
	}
	m.lockDenials.WithLabelValues(op).Inc()
}

// PriceUpdated records an accepted oracle push.
func (m *LendingMetrics) PriceUpdated(ticker string) {
	if m == nil {
		return
	}
	m.priceUpdates.WithLabelValues(ticker).Inc()
}

// ObserveHealthFactor records the last computed health factor for an account.
func (m *LendingMetrics) ObserveHealthFactor(account string, value float64) {
	if m == nil {
		return
	}
	m.healthFactor.WithLabelValues(account).Set(value)
}
