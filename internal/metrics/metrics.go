// Package metrics exposes the daemon's Prometheus collectors and the HTTP
// endpoint serving them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "autotrader"

// Metrics holds every collector the daemon updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	triggersDropped *prometheus.CounterVec
	signals         *prometheus.CounterVec
	riskRejections  *prometheus.CounterVec
	orders          *prometheus.CounterVec
	orderAttempts   prometheus.Histogram
	duplicates      prometheus.Counter
	tradesUsed      prometheus.Gauge
	riskHalted      prometheus.Gauge
	marketPaused    *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Evaluation cycles by market and result.",
		}, []string{"market", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one instrument cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"market"}),
		triggersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "triggers_dropped_total",
			Help: "Triggers skipped because a cycle for the instrument was in flight.",
		}, []string{"market"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Signals produced by strategy and direction.",
		}, []string{"strategy", "direction"}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_rejections_total",
			Help: "Signals rejected by the risk manager, by check.",
		}, []string{"check"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Order outcomes by status.",
		}, []string{"status"}),
		orderAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_attempts",
			Help:    "Broker calls needed per order.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_duplicates_total",
			Help: "Submissions answered from a recorded outcome.",
		}),
		tradesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "risk_trades_used",
			Help: "Trades consumed from today's budget.",
		}),
		riskHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "risk_halted",
			Help: "1 while the risk manager is halted.",
		}),
		marketPaused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "market_paused",
			Help: "1 while a market is paused after an authentication failure.",
		}, []string{"market"}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.triggersDropped, m.signals, m.riskRejections,
		m.orders, m.orderAttempts, m.duplicates, m.tradesUsed, m.riskHalted, m.marketPaused,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CycleFinished(market, result string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(market, result).Inc()
	m.cycleDuration.WithLabelValues(market).Observe(seconds)
}

func (m *Metrics) TriggerDropped(market string) {
	if m == nil {
		return
	}
	m.triggersDropped.WithLabelValues(market).Inc()
}

func (m *Metrics) Signal(strategy, direction string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(strategy, direction).Inc()
}

func (m *Metrics) RiskRejected(check string) {
	if m == nil {
		return
	}
	m.riskRejections.WithLabelValues(check).Inc()
}

func (m *Metrics) Order(status string, attempts int) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status).Inc()
	m.orderAttempts.Observe(float64(attempts))
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// RiskState publishes the risk budget usage and the halt flag.
func (m *Metrics) RiskState(tradesUsed int, halted bool) {
	if m == nil {
		return
	}
	m.tradesUsed.Set(float64(tradesUsed))
	if halted {
		m.riskHalted.Set(1)
	} else {
		m.riskHalted.Set(0)
	}
}

func (m *Metrics) MarketPaused(market string, paused bool) {
	if m == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1
	}
	m.marketPaused.WithLabelValues(market).Set(v)
}
