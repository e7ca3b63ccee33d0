// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实验埋点指标 (Counter/Gauge/Histogram) - 按策略汇总多次实验
// =============================================================================
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/arq/internal/sim"
)

// RunMetrics 实验指标集合
type RunMetrics struct {
	Runs              *prometheus.CounterVec
	CompletionSeconds *prometheus.HistogramVec
	PacketsSent       *prometheus.CounterVec
	Retransmits       *prometheus.CounterVec
	Duplicates        *prometheus.CounterVec
	LinkDrops         *prometheus.CounterVec
	Efficiency        *prometheus.GaugeVec
}

// NewRunMetrics 创建并注册实验指标
func NewRunMetrics(registry prometheus.Registerer) *RunMetrics {
	m := &RunMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "runs_total",
			Help:      "Simulation runs by outcome",
		}, []string{"policy", "outcome"}),

		CompletionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "completion_seconds",
			Help:      "Logical time until every sequence number was acknowledged",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"policy"}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "packets_sent_total",
			Help:      "DATA frames sent across all runs",
		}, []string{"policy"}),

		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "retransmits_total",
			Help:      "DATA frames retransmitted across all runs",
		}, []string{"policy"}),

		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "receiver_duplicates_total",
			Help:      "Duplicate DATA frames seen by the receiver",
		}, []string{"policy"}),

		LinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "link_drops_total",
			Help:      "Frames dropped by the simulated links",
		}, []string{"policy", "direction"}),

		Efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "efficiency_ratio",
			Help:      "Delivered sequence numbers per DATA frame sent in the last run",
		}, []string{"policy"}),
	}

	registry.MustRegister(
		m.Runs,
		m.CompletionSeconds,
		m.PacketsSent,
		m.Retransmits,
		m.Duplicates,
		m.LinkDrops,
		m.Efficiency,
	)
	return m
}

// Observe 记录一次实验结果
func (m *RunMetrics) Observe(res *sim.Result, err error) {
	if res == nil {
		return
	}
	policy := res.Policy.String()

	m.Runs.WithLabelValues(policy, outcome(res, err)).Inc()
	if res.Drained {
		m.CompletionSeconds.WithLabelValues(policy).Observe(res.FinishedAt.Seconds())
	}

	m.PacketsSent.WithLabelValues(policy).Add(float64(res.Sender.PacketsSent))
	m.Retransmits.WithLabelValues(policy).Add(float64(res.Sender.Retransmits))
	m.Duplicates.WithLabelValues(policy).Add(float64(res.Receiver.Duplicates))
	m.LinkDrops.WithLabelValues(policy, "forward").Add(float64(res.Forward.Dropped))
	m.LinkDrops.WithLabelValues(policy, "reverse").Add(float64(res.Reverse.Dropped))

	if res.Sender.PacketsSent > 0 {
		m.Efficiency.WithLabelValues(policy).Set(float64(res.Receiver.Delivered) / float64(res.Sender.PacketsSent))
	}
}

func outcome(res *sim.Result, err error) string {
	switch {
	case err == nil && res.Drained:
		return "drained"
	case errors.Is(err, sim.ErrDeadline):
		return "deadline"
	case errors.Is(err, sim.ErrIdle):
		return "idle"
	}
	return "error"
}
