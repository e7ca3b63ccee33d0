// =============================================================================
// 文件: internal/sim/link.go
// 描述: 模拟链路 - 单向不可靠通道 (延迟、抖动、丢包、重复、脚本丢弃)
// =============================================================================
package sim

import (
	"math/rand"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

// DropRule 丢弃帧 Frame 的第 Nth 次发送 (从 1 开始, 0 表示每一次)
type DropRule struct {
	Frame arq.Frame
	Nth   int
}

// LinkOptions 链路参数
type LinkOptions struct {
	Delay         time.Duration
	Jitter        time.Duration // 实际延迟 [Delay, Delay+Jitter)
	LossRate      float64
	DuplicateRate float64
	Seed          int64
	Drops         []DropRule
}

// DefaultLinkOptions 无损链路, 单程 500ms
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		Delay: 500 * time.Millisecond,
		Seed:  1,
	}
}

// LinkStats 链路统计
type LinkStats struct {
	Sent       uint64
	Delivered  uint64
	Dropped    uint64
	Duplicated uint64
}

// Link 单向模拟链路, 实现 arq.Channel
type Link struct {
	name    string
	sched   *Scheduler
	opts    LinkOptions
	rng     *rand.Rand
	trace   *Trace
	deliver func(frame []byte)

	// 每个帧的发送次数
	sends map[arq.Frame]int

	stats LinkStats
}

// NewLink 创建链路
func NewLink(name string, sched *Scheduler, opts LinkOptions, trace *Trace) *Link {
	return &Link{
		name:  name,
		sched: sched,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		trace: trace,
		sends: make(map[arq.Frame]int),
	}
}

// Connect 设置对端接收回调
func (l *Link) Connect(deliver func(frame []byte)) {
	l.deliver = deliver
}

// Send 发送一帧 (发出即不管)
func (l *Link) Send(frame []byte) error {
	l.stats.Sent++
	buf := append([]byte(nil), frame...)

	// 畸形帧照常传输, 由对端丢弃
	f, err := arq.DecodeFrame(buf)
	if err == nil {
		l.sends[f]++
		l.trace.Record(l.sched.Now(), l.name, ActionSent, f)
		if l.scripted(f, l.sends[f]) {
			l.drop(f)
			return nil
		}
	}

	if l.opts.LossRate > 0 && l.rng.Float64() < l.opts.LossRate {
		l.drop(f)
		return nil
	}

	l.schedule(buf, f)
	if l.opts.DuplicateRate > 0 && l.rng.Float64() < l.opts.DuplicateRate {
		l.stats.Duplicated++
		l.trace.Record(l.sched.Now(), l.name, ActionDuplicate, f)
		l.schedule(append([]byte(nil), buf...), f)
	}
	return nil
}

func (l *Link) scripted(f arq.Frame, n int) bool {
	for _, r := range l.opts.Drops {
		if r.Frame == f && (r.Nth == 0 || r.Nth == n) {
			return true
		}
	}
	return false
}

func (l *Link) drop(f arq.Frame) {
	l.stats.Dropped++
	l.trace.Record(l.sched.Now(), l.name, ActionDrop, f)
}

func (l *Link) schedule(buf []byte, f arq.Frame) {
	delay := l.opts.Delay
	if l.opts.Jitter > 0 {
		delay += time.Duration(l.rng.Int63n(int64(l.opts.Jitter)))
	}
	l.sched.AfterFunc(delay, func() {
		l.stats.Delivered++
		l.trace.Record(l.sched.Now(), l.name, ActionRecv, f)
		if l.deliver != nil {
			l.deliver(buf)
		}
	})
}

// Name 链路名称
func (l *Link) Name() string { return l.name }

// Stats 获取统计
func (l *Link) Stats() LinkStats { return l.stats }
