// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器 - 节点运行时从事件循环采样 ARQ 统计
// =============================================================================
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/arq/internal/transport"
)

const namespace = "arq"

// StatsSource 节点统计来源
type StatsSource interface {
	Stats(ctx context.Context) (*transport.NodeStats, error)
}

// metricSpec 单个指标: 描述符 + 取值
type metricSpec struct {
	desc  *prometheus.Desc
	vt    prometheus.ValueType
	value func(st *transport.NodeStats) (float64, bool)
}

// NodeCollector 节点指标收集器
type NodeCollector struct {
	source  StatsSource
	timeout time.Duration

	upDesc   *prometheus.Desc
	doneDesc *prometheus.Desc
	specs    []metricSpec
}

// NewNodeCollector 创建节点收集器
func NewNodeCollector(source StatsSource) *NodeCollector {
	labels := []string{"policy", "role"}
	newDesc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	c := &NodeCollector{
		source:  source,
		timeout: time.Second,
		upDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "node", "up"),
			"Whether the last stats sample succeeded (1 = yes)",
			nil, nil,
		),
		doneDesc: newDesc("node", "done", "Whether the node finished its run (1 = yes)"),
	}

	sender := func(f func(s *transport.NodeStats) float64) func(*transport.NodeStats) (float64, bool) {
		return func(st *transport.NodeStats) (float64, bool) {
			if st.Sender == nil {
				return 0, false
			}
			return f(st), true
		}
	}
	receiver := func(f func(s *transport.NodeStats) float64) func(*transport.NodeStats) (float64, bool) {
		return func(st *transport.NodeStats) (float64, bool) {
			if st.Receiver == nil {
				return 0, false
			}
			return f(st), true
		}
	}
	always := func(f func(s *transport.NodeStats) float64) func(*transport.NodeStats) (float64, bool) {
		return func(st *transport.NodeStats) (float64, bool) { return f(st), true }
	}

	counter, gauge := prometheus.CounterValue, prometheus.GaugeValue
	c.specs = []metricSpec{
		// 发送端
		{newDesc("sender", "packets_sent_total", "DATA frames sent, including retransmissions"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.PacketsSent) })},
		{newDesc("sender", "retransmits_total", "DATA frames retransmitted after a timeout"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Retransmits) })},
		{newDesc("sender", "timeouts_total", "Retransmission timer expirations"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Timeouts) })},
		{newDesc("sender", "acks_received_total", "ACK frames processed"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.AcksReceived) })},
		{newDesc("sender", "stale_acks_total", "ACKs below the window base or already acknowledged"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.StaleAcks) })},
		{newDesc("sender", "unknown_acks_total", "ACKs for sequence numbers never sent"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.UnknownAcks) })},
		{newDesc("sender", "dropped_frames_total", "Malformed or unexpected frames dropped"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Dropped) })},
		{newDesc("sender", "send_errors_total", "Channel send failures"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.SendErrors) })},
		{newDesc("sender", "window_base", "Lowest unacknowledged sequence number"), gauge,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Base) })},
		{newDesc("sender", "next_sequence", "Next sequence number to send"), gauge,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Next) })},
		{newDesc("sender", "window_size", "Effective send window"), gauge,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Window) })},
		{newDesc("sender", "pending", "Frames awaiting acknowledgement"), gauge,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Sender.Pending) })},

		// 定时器
		{newDesc("timer", "scheduled_total", "Timers scheduled"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Timers.Scheduled) })},
		{newDesc("timer", "cancelled_total", "Timers cancelled"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Timers.Cancelled) })},
		{newDesc("timer", "superseded_total", "Timers replaced by a reschedule of the same key"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Timers.Superseded) })},
		{newDesc("timer", "fired_total", "Timers fired"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Timers.Fired) })},
		{newDesc("timer", "misuse_total", "Cancels of unknown handles and stale firings"), counter,
			sender(func(s *transport.NodeStats) float64 { return float64(s.Timers.Misuse) })},

		// 接收端
		{newDesc("receiver", "data_received_total", "DATA frames processed"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.DataReceived) })},
		{newDesc("receiver", "delivered_total", "Sequence numbers delivered in order"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.Delivered) })},
		{newDesc("receiver", "duplicates_total", "Duplicate DATA frames re-acknowledged"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.Duplicates) })},
		{newDesc("receiver", "out_of_window_total", "DATA frames discarded outside the receive window"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.OutOfWindow) })},
		{newDesc("receiver", "acks_sent_total", "ACK frames sent"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.AcksSent) })},
		{newDesc("receiver", "dropped_frames_total", "Malformed or unexpected frames dropped"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.Dropped) })},
		{newDesc("receiver", "send_errors_total", "Channel send failures"), counter,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.SendErrors) })},
		{newDesc("receiver", "expected_sequence", "Next in-order sequence number awaited"), gauge,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.Expected) })},
		{newDesc("receiver", "buffered", "Out-of-order frames held for delivery"), gauge,
			receiver(func(s *transport.NodeStats) float64 { return float64(s.Receiver.Buffered) })},

		// 通道
		{newDesc("channel", "frames_sent_total", "Frames written to the channel"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.FramesSent) })},
		{newDesc("channel", "frames_received_total", "Frames read from the channel"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.FramesRecv) })},
		{newDesc("channel", "bytes_sent_total", "Bytes written to the channel"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.BytesSent) })},
		{newDesc("channel", "bytes_received_total", "Bytes read from the channel"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.BytesRecv) })},
		{newDesc("channel", "send_errors_total", "Channel write failures"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.SendErrors) })},
		{newDesc("channel", "foreign_frames_total", "Frames from unknown peers or non-binary messages"), counter,
			always(func(s *transport.NodeStats) float64 { return float64(s.Channel.ForeignFrames) })},
	}
	return c
}

// SetTimeout 设置采样超时
func (c *NodeCollector) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Describe 实现 prometheus.Collector 接口
func (c *NodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.upDesc
	ch <- c.doneDesc
	for _, s := range c.specs {
		ch <- s.desc
	}
}

// Collect 实现 prometheus.Collector 接口
func (c *NodeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.source.Stats(ctx)
	if err != nil || st == nil {
		ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 1)

	policy, role := st.Policy.String(), string(st.Role)
	done := 0.0
	if st.Done {
		done = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.doneDesc, prometheus.GaugeValue, done, policy, role)

	for _, s := range c.specs {
		if v, ok := s.value(st); ok {
			ch <- prometheus.MustNewConstMetric(s.desc, s.vt, v, policy, role)
		}
	}
}
