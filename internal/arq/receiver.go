// =============================================================================
// 文件: internal/arq/receiver.go
// 描述: ARQ 引擎 - 接收端 (按序交付 / 乱序缓存、ACK 生成)
// =============================================================================
package arq

import (
	"fmt"
	"sort"
)

// Receiver 接收端引擎
//
// 非并发安全: 所有方法必须在时钟的事件线程上调用。
type Receiver struct {
	cfg Config
	ch  Channel
	logger

	// 下一个期望交付的序列号
	expected uint32

	// 选择重传: 窗口内已收到但尚未交付的序列号
	record map[uint32]bool

	deliver func(seq uint32)

	stats ReceiverStats
}

// NewReceiver 创建接收端, deliver 在序列号按序交付给应用时调用
func NewReceiver(cfg *Config, clock Clock, ch Channel, deliver func(seq uint32)) (*Receiver, error) {
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

	return &Receiver{
		cfg:     n,
		ch:      ch,
		logger:  logger{component: "Receiver", level: n.LogLevel, out: n.LogOutput, clock: clock},
		record:  make(map[uint32]bool),
		deliver: deliver,
	}, nil
}

// OnReceive 通道回调: 解码并处理数据帧
func (r *Receiver) OnReceive(raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		r.stats.Dropped++
		r.log(1, "丢弃畸形帧: %v", err)
		return
	}
	if f.Kind != FrameData {
		r.stats.Dropped++
		r.log(1, "接收端丢弃非数据帧: %s", f)
		return
	}
	if err := r.OnData(f.Seq); err != nil {
		r.log(2, "丢弃 %s: %v", f, err)
	}
}

// OnData 处理数据帧
func (r *Receiver) OnData(seq uint32) error {
	r.stats.DataReceived++
	r.log(1, "收到 DATA Seq=%d (expected=%d)", seq, r.expected)

	if seq > r.cfg.MaxSequence {
		r.stats.OutOfWindow++
		return fmt.Errorf("%w: seq=%d > max=%d", ErrOutOfWindowData, seq, r.cfg.MaxSequence)
	}

	// 已交付过: 重新确认, 不重复交付
	if seq < r.expected {
		r.stats.Duplicates++
		r.ack(seq)
		return nil
	}

	if !r.cfg.Policy.BuffersOutOfOrder() {
		if seq != r.expected {
			// 停等/回退 N 不接受乱序, 等发送端超时
			r.stats.OutOfWindow++
			return fmt.Errorf("%w: seq=%d expected=%d", ErrOutOfWindowData, seq, r.expected)
		}
		r.release(seq)
		r.expected++
		r.ack(seq)
		return nil
	}

	if uint64(seq) >= uint64(r.expected)+uint64(r.cfg.WindowSize) {
		r.stats.OutOfWindow++
		return fmt.Errorf("%w: seq=%d 窗口=[%d,%d)", ErrOutOfWindowData, seq, r.expected, uint64(r.expected)+uint64(r.cfg.WindowSize))
	}
	if r.record[seq] {
		r.stats.Duplicates++
		r.ack(seq)
		return nil
	}

	r.record[seq] = true
	if seq == r.expected {
		for r.record[r.expected] {
			delete(r.record, r.expected)
			r.release(r.expected)
			r.expected++
		}
	} else {
		r.log(2, "缓存乱序 Seq=%d, 等待 Seq=%d", seq, r.expected)
	}
	r.ack(seq)
	return nil
}

// release 交付给应用
func (r *Receiver) release(seq uint32) {
	r.stats.Delivered++
	if r.deliver != nil {
		r.deliver(seq)
	}
}

func (r *Receiver) ack(seq uint32) {
	r.stats.AcksSent++
	if err := r.ch.Send(NewAckFrame(seq).Encode()); err != nil {
		r.stats.SendErrors++
		r.log(0, "发送 ACK Seq=%d 失败: %v", seq, err)
		return
	}
	r.log(1, "发送 ACK Seq=%d", seq)
}

// Expected 下一个期望序列号
func (r *Receiver) Expected() uint32 { return r.expected }

// Complete 是否已交付全部序列号
func (r *Receiver) Complete() bool { return r.expected == r.cfg.limit() }

// Buffered 已缓存未交付的序列号 (升序)
func (r *Receiver) Buffered() []uint32 {
	seqs := make([]uint32, 0, len(r.record))
	for seq := range r.record {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Policy 当前策略
func (r *Receiver) Policy() Policy { return r.cfg.Policy }

// Stats 获取统计
func (r *Receiver) Stats() ReceiverStats {
	st := r.stats
	st.Expected = r.expected
	st.Buffered = len(r.record)
	return st
}
