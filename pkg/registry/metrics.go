package registry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics contains Prometheus metrics for the registry.
//
// All recording helpers tolerate a nil receiver so the registry can run
// without metrics wired in.
type Metrics struct {
	selections     *prometheus.CounterVec
	failovers      prometheus.Counter
	usageAdded     *prometheus.CounterVec
	usageRatio     *prometheus.GaugeVec
	rejectedInputs prometheus.Counter
}

// NewMetrics creates a Metrics instance registered on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrelay_registry_selections_total",
				Help: "Total number of selection decisions by outcome",
			},
			[]string{"outcome"},
		),

		failovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payrelay_registry_failovers_total",
				Help: "Total number of automatic selection failovers",
			},
		),

		usageAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payrelay_registry_usage_added_total",
				Help: "Total monetary usage recorded per server",
			},
			[]string{"server_id"},
		),

		usageRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payrelay_registry_usage_ratio",
				Help: "Current usage-to-capacity ratio per server (0.0-1.0+)",
			},
			[]string{"server_id"},
		),

		rejectedInputs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payrelay_registry_rejected_inputs_total",
				Help: "Total number of usage reports rejected before mutation",
			},
		),
	}
}

// recordSelection counts a selection decision.
func (m *Metrics) recordSelection(outcome string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(outcome).Inc()
}

// recordFailover counts an automatic failover.
func (m *Metrics) recordFailover() {
	if m == nil {
		return
	}
	m.failovers.Inc()
}

// recordUsage updates per-server usage counters and the ratio gauge.
func (m *Metrics) recordUsage(srv *Server, amount decimal.Decimal) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(srv.ID, 10)
	added, _ := amount.Float64()
	m.usageAdded.WithLabelValues(id).Add(added)
	ratio, _ := srv.UsageRatio().Float64()
	m.usageRatio.WithLabelValues(id).Set(ratio)
}

// ObserveUsageRatio sets the usage ratio gauge for a server. Used by the
// snapshot job to refresh gauges for servers that saw no traffic.
func (m *Metrics) ObserveUsageRatio(srv *Server) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(srv.ID, 10)
	ratio, _ := srv.UsageRatio().Float64()
	m.usageRatio.WithLabelValues(id).Set(ratio)
}

// recordRejectedInput counts a rejected usage report.
func (m *Metrics) recordRejectedInput() {
	if m == nil {
		return
	}
	m.rejectedInputs.Inc()
}
