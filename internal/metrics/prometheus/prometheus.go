package prometheus

import (
	"strconv"
	"time"

	"timebank/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Recorder for Prometheus.
type Collector struct {
	transitions     *prometheus.CounterVec
	gatewayCalls    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	circuitState    *prometheus.GaugeVec
	txRetries       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	outboxBacklog   prometheus.Gauge
	eventsPublished prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transitions_total",
			Help:      "Ledger entry status writes by kind and resulting status",
		}, []string{"kind", "status"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by method and outcome",
		}, []string{"method", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_tx_retries_total",
			Help:      "Serializable transaction retries by postgres error code",
		}, []string{"code"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation attempts, applied or skipped by the fence",
		}, []string{"applied"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_backlog",
			Help:      "Unpublished change events seen by the last dispatcher poll",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Change events handed to publishers",
		}),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.transitions, c.gatewayCalls, c.gatewayLatency, c.circuitState,
		c.txRetries, c.reconciliations, c.outboxBacklog, c.eventsPublished,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) RecordTransition(kind, status string) {
	c.transitions.WithLabelValues(kind, status).Inc()
}

func (c *Collector) RecordGatewayCall(method, outcome string, duration time.Duration) {
	c.gatewayCalls.WithLabelValues(method, outcome).Inc()
	c.gatewayLatency.WithLabelValues(method).Observe(duration.Seconds())
}

func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
}

func (c *Collector) RecordTxRetry(code string) {
	c.txRetries.WithLabelValues(code).Inc()
}

func (c *Collector) RecordReconciliation(applied bool) {
	c.reconciliations.WithLabelValues(strconv.FormatBool(applied)).Inc()
}

func (c *Collector) RecordOutboxBacklog(depth int) {
	c.outboxBacklog.Set(float64(depth))
}

func (c *Collector) RecordEventsPublished(count int) {
	c.eventsPublished.Add(float64(count))
}
