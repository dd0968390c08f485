// Package metrics aggregates prometheus collectors for the trading engine.
// Nothing here serves an HTTP scrape endpoint — that surface is out of
// scope — but the registry is populated so a thin HTTP layer can expose it
// later without touching this package.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric the core subsystems update. One instance is
// constructed at startup and threaded through the application context,
// mirroring the teacher's Collector-with-mutex shape, but backed by real
// prometheus.Collector registrations instead of plain struct fields.
type Collector struct {
	mu sync.Mutex

	SetupsEvaluated  prometheus.Counter
	SetupsAccepted   prometheus.Counter
	SetupsRejected   *prometheus.CounterVec // label: reason
	OrdersSubmitted  *prometheus.CounterVec // label: kind (bracket, trailing, market)
	StopReplaces     *prometheus.CounterVec // label: result (ok, transient, rejected, already_terminal)
	PositionsOpen    prometheus.Gauge
	DailyRealizedPnL prometheus.Gauge
	BrokerCallLatency *prometheus.HistogramVec // label: op
	ForceCloses      prometheus.Counter

	lastUpdate time.Time
}

// NewCollector builds and registers every collector against reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default
// global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SetupsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapengine_setups_evaluated_total",
			Help: "Strategy-accepted setups passed to the risk gate.",
		}),
		SetupsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapengine_setups_accepted_total",
			Help: "Setups admitted by the risk gate and submitted as brackets.",
		}),
		SetupsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapengine_setups_rejected_total",
			Help: "Setups rejected by the risk gate, by reason.",
		}, []string{"reason"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapengine_orders_submitted_total",
			Help: "Orders submitted to the broker, by kind.",
		}, []string{"kind"}),
		StopReplaces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapengine_stop_replaces_total",
			Help: "Stop-replace attempts, by outcome.",
		}, []string{"result"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapengine_positions_open",
			Help: "Currently open bot-managed positions.",
		}),
		DailyRealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapengine_daily_realized_pnl_dollars",
			Help: "Realized PnL for the current trading day.",
		}),
		BrokerCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gapengine_broker_call_duration_seconds",
			Help:    "Broker adapter call latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ForceCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapengine_force_closes_total",
			Help: "Positions force-closed by the cutoff sweep or an operator close command.",
		}),
	}

	reg.MustRegister(
		c.SetupsEvaluated, c.SetupsAccepted, c.SetupsRejected,
		c.OrdersSubmitted, c.StopReplaces, c.PositionsOpen,
		c.DailyRealizedPnL, c.BrokerCallLatency, c.ForceCloses,
	)
	return c
}

// Touch records the time of the most recent metrics update, useful for a
// future liveness probe.
func (c *Collector) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = time.Now()
}

// LastUpdate returns the last time Touch was called.
func (c *Collector) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}
