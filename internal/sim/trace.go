// =============================================================================
// 文件: internal/sim/trace.go
// 描述: 事件轨迹 - 记录每次发送/到达/丢弃/交付
// =============================================================================
package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

// 轨迹动作
const (
	ActionSent      = "sent"
	ActionRecv      = "recv"
	ActionDrop      = "drop"
	ActionDuplicate = "dup"
	ActionDeliver   = "deliver"
)

// TraceEvent 轨迹事件
type TraceEvent struct {
	At     time.Duration
	Where  string
	Action string
	Frame  arq.Frame
}

func (e TraceEvent) String() string {
	return fmt.Sprintf("%8.3fs %-8s %-7s %s", e.At.Seconds(), e.Where, e.Action, e.Frame)
}

// Trace 轨迹记录
type Trace struct {
	events []TraceEvent
}

// Record 追加事件
func (t *Trace) Record(at time.Duration, where, action string, f arq.Frame) {
	if t == nil {
		return
	}
	t.events = append(t.events, TraceEvent{At: at, Where: where, Action: action, Frame: f})
}

// Events 全部事件
func (t *Trace) Events() []TraceEvent {
	if t == nil {
		return nil
	}
	return t.events
}

// Filter 按动作与帧类型过滤
func (t *Trace) Filter(action string, kind arq.FrameKind) []TraceEvent {
	var out []TraceEvent
	for _, e := range t.Events() {
		if e.Action == action && e.Frame.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (t *Trace) String() string {
	var b strings.Builder
	for _, e := range t.Events() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
