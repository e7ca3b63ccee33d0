// =============================================================================
// 文件: internal/arq/types.go
// 描述: ARQ 引擎 - 外部协作者接口与统计类型
// =============================================================================
package arq

import (
	"fmt"
	"io"
	"time"
)

// Clock 逻辑时钟与事件调度 (由外部提供, 引擎不读取墙钟)
//
// 所有回调必须在同一个事件线程上串行执行。
type Clock interface {
	// Now 当前逻辑时间
	Now() time.Duration

	// AfterFunc 在 d 之后执行 f
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper 已调度事件的句柄
type Stopper interface {
	// Stop 撤销事件, 事件已执行或已撤销时返回 false
	Stop() bool
}

// Channel 不可靠的帧通道 (可能延迟、丢失、重复)
type Channel interface {
	Send(frame []byte) error
}

// ChannelFunc 函数适配器
type ChannelFunc func(frame []byte) error

func (f ChannelFunc) Send(frame []byte) error { return f(frame) }

// SenderStats 发送端统计
type SenderStats struct {
	PacketsSent  uint64 // 含重传
	Retransmits  uint64
	Timeouts     uint64
	AcksReceived uint64
	StaleAcks    uint64
	UnknownAcks  uint64
	Dropped      uint64 // 畸形帧或错误类型帧
	SendErrors   uint64

	Base    uint32
	Next    uint32
	Window  int
	Pending int
	Drained bool
}

// ReceiverStats 接收端统计
type ReceiverStats struct {
	DataReceived uint64
	Delivered    uint64
	Duplicates   uint64
	OutOfWindow  uint64
	AcksSent     uint64
	Dropped      uint64
	SendErrors   uint64

	Expected uint32
	Buffered int
}

// logger 引擎日志, 时间戳为逻辑时间
type logger struct {
	component string
	level     int
	out       io.Writer
	clock     Clock
}

func (l *logger) log(level int, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Fprintf(l.out, "%s t=%.3fs [%s] %s\n", prefix, l.clock.Now().Seconds(), l.component, fmt.Sprintf(format, args...))
}
