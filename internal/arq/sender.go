// =============================================================================
// 文件: internal/arq/sender.go
// 描述: ARQ 引擎 - 发送端 (滑动窗口、ACK 解释、超时重传)
// =============================================================================
package arq

import (
	"fmt"
	"sort"
	"time"
)

// Sender 发送端引擎
//
// 非并发安全: 所有方法必须在时钟的事件线程上调用。
type Sender struct {
	cfg    Config
	clock  Clock
	ch     Channel
	timers *TimerService
	logger

	// 滑动窗口: base <= next <= base+size, next <= offered <= MaxSequence+1
	base    uint32
	next    uint32
	offered uint32

	// 在途序列号 -> 定时器
	pending map[uint32]TimerHandle

	// 选择重传: 已确认但仍在 base 之上的序列号
	acked map[uint32]struct{}

	drained   bool
	onDrained func(at time.Duration)

	stats SenderStats
}

// NewSender 创建发送端
func NewSender(cfg *Config, clock Clock, ch Channel) (*Sender, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil || ch == nil {
		return nil, fmt.Errorf("%w: clock 和 channel 不能为空", ErrInvalidConfig)
	}
	n := cfg.normalized()

	return &Sender{
		cfg:     n,
		clock:   clock,
		ch:      ch,
		timers:  NewTimerService(clock),
		logger:  logger{component: "Sender", level: n.LogLevel, out: n.LogOutput, clock: clock},
		pending: make(map[uint32]TimerHandle),
		acked:   make(map[uint32]struct{}),
	}, nil
}

// OnDrained 设置全部确认后的回调 (只触发一次)
func (s *Sender) OnDrained(fn func(at time.Duration)) {
	s.onDrained = fn
}

// Submit 应用层追加 count 个可发送序列号并填充窗口
// count <= 0 表示放开全部序列号。返回本次新发送的帧数。
func (s *Sender) Submit(count int) int {
	limit := s.cfg.limit()
	if count <= 0 || uint64(s.offered)+uint64(count) > uint64(limit) {
		s.offered = limit
	} else {
		s.offered += uint32(count)
	}
	sent := s.fill()
	s.log(2, "提交: offered=%d 新发送=%d 窗口=[%d,%d)", s.offered, sent, s.base, s.next)
	return sent
}

// OnReceive 通道回调: 解码并处理 ACK
func (s *Sender) OnReceive(raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		s.stats.Dropped++
		s.log(1, "丢弃畸形帧: %v", err)
		return
	}
	if f.Kind != FrameAck {
		s.stats.Dropped++
		s.log(1, "发送端丢弃非 ACK 帧: %s", f)
		return
	}
	if err := s.OnAck(f.Seq); err != nil {
		s.log(2, "忽略 %s: %v", f, err)
	}
}

// OnAck 处理确认
func (s *Sender) OnAck(seq uint32) error {
	s.stats.AcksReceived++
	s.log(1, "收到 ACK Seq=%d", seq)

	if seq < s.base {
		s.stats.StaleAcks++
		return fmt.Errorf("%w: seq=%d base=%d", ErrStaleAck, seq, s.base)
	}
	if seq >= s.next {
		s.stats.UnknownAcks++
		return fmt.Errorf("%w: seq=%d next=%d", ErrUnknownAck, seq, s.next)
	}

	if s.cfg.Policy.CumulativeAck() {
		// 累积确认 [base, seq]
		for q := s.base; q <= seq; q++ {
			s.release(q)
		}
		s.base = seq + 1
	} else {
		if _, ok := s.acked[seq]; ok {
			s.stats.StaleAcks++
			return fmt.Errorf("%w: seq=%d 已确认", ErrStaleAck, seq)
		}
		s.release(seq)
		s.acked[seq] = struct{}{}
		if seq == s.base {
			for {
				if _, ok := s.acked[s.base]; !ok {
					break
				}
				delete(s.acked, s.base)
				s.base++
			}
		}
	}

	s.fill()
	s.checkDrained()
	return nil
}

// onTimeout 定时器回调
func (s *Sender) onTimeout(seq uint32) {
	s.stats.Timeouts++
	if _, ok := s.pending[seq]; !ok {
		s.log(2, "Seq=%d 超时但已不在途, 忽略", seq)
		return
	}

	if s.cfg.Policy.RetransmitsWindow() {
		s.log(1, "超时 Seq=%d, 从 base=%d 重传整个窗口", seq, s.base)
		end := s.windowEnd()
		s.next = s.base
		for s.next < end {
			q := s.next
			s.next++
			s.transmit(q, true)
		}
		return
	}

	s.log(1, "超时, 重传 Seq=%d", seq)
	s.transmit(seq, true)
}

// fill 按窗口发送新序列号
func (s *Sender) fill() int {
	end := s.windowEnd()
	sent := 0
	for s.next < end {
		q := s.next
		s.next++
		s.transmit(q, false)
		sent++
	}
	return sent
}

// windowEnd min(base+size, offered)
func (s *Sender) windowEnd() uint32 {
	end := uint64(s.base) + uint64(s.cfg.WindowSize)
	if end > uint64(s.offered) {
		end = uint64(s.offered)
	}
	return uint32(end)
}

// transmit 发送数据帧并 (重新) 启动定时器
func (s *Sender) transmit(seq uint32, retransmit bool) {
	s.stats.PacketsSent++
	if retransmit {
		s.stats.Retransmits++
	}
	if err := s.ch.Send(NewDataFrame(seq).Encode()); err != nil {
		// 发送失败同样依赖超时恢复
		s.stats.SendErrors++
		s.log(0, "发送 DATA Seq=%d 失败: %v", seq, err)
	} else {
		s.log(1, "发送 DATA Seq=%d", seq)
	}
	s.pending[seq] = s.timers.Schedule(seq, s.cfg.RTO, s.onTimeout)
}

// release 取消定时器并移出在途集合
func (s *Sender) release(seq uint32) {
	h, ok := s.pending[seq]
	if !ok {
		return
	}
	s.timers.Cancel(h)
	delete(s.pending, seq)
}

func (s *Sender) checkDrained() {
	if s.drained || s.base != s.cfg.limit() || len(s.pending) != 0 {
		return
	}
	s.drained = true
	s.log(1, "全部 %d 个序列号已确认", s.cfg.limit())
	if s.onDrained != nil {
		s.onDrained(s.clock.Now())
	}
}

// Close 停止全部定时器
func (s *Sender) Close() {
	s.timers.Stop()
	for seq := range s.pending {
		delete(s.pending, seq)
	}
}

// Base 窗口基序号 (最小未确认)
func (s *Sender) Base() uint32 { return s.base }

// Next 下一个待发送序列号
func (s *Sender) Next() uint32 { return s.next }

// WindowSize 实际窗口大小
func (s *Sender) WindowSize() int { return s.cfg.WindowSize }

// Policy 当前策略
func (s *Sender) Policy() Policy { return s.cfg.Policy }

// Drained 全部序列号是否都已确认
func (s *Sender) Drained() bool {
	return s.base == s.cfg.limit() && len(s.pending) == 0
}

// Pending 在途序列号 (升序)
func (s *Sender) Pending() []uint32 {
	seqs := make([]uint32, 0, len(s.pending))
	for seq := range s.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Timers 定时器服务 (诊断用)
func (s *Sender) Timers() *TimerService { return s.timers }

// Stats 获取统计
func (s *Sender) Stats() SenderStats {
	st := s.stats
	st.Base = s.base
	st.Next = s.next
	st.Window = s.cfg.WindowSize
	st.Pending = len(s.pending)
	st.Drained = s.Drained()
	return st
}
