// =============================================================================
// 文件: internal/sim/sim_test.go
// 描述: 实验测试 - 三种策略的典型时序与随机丢包下的正确性
// =============================================================================
package sim

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

func scenario(p arq.Policy, window int, maxSeq uint32) Scenario {
	sc := DefaultScenario()
	sc.Engine = arq.Config{
		Policy:      p,
		WindowSize:  window,
		MaxSequence: maxSeq,
		RTO:         2 * time.Second,
		LogLevel:    2,
		LogOutput:   io.Discard,
	}
	return sc
}

func sentAt(tr *Trace, kind arq.FrameKind) map[time.Duration][]uint32 {
	out := map[time.Duration][]uint32{}
	for _, e := range tr.Filter(ActionSent, kind) {
		out[e.At] = append(out[e.At], e.Frame.Seq)
	}
	return out
}

func equalSeqs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seqRange(n uint32) []uint32 {
	out := make([]uint32, 0, n+1)
	for i := uint32(0); i <= n; i++ {
		out = append(out, i)
	}
	return out
}

func TestStopAndWaitNoLoss(t *testing.T) {
	res, err := Run(context.Background(), scenario(arq.StopAndWait, 1, 2))
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if !res.Drained || res.FinishedAt != 3*time.Second {
		t.Errorf("应在 t=3s 完成: drained=%v at=%v", res.Drained, res.FinishedAt)
	}
	if res.Sender.Retransmits != 0 {
		t.Errorf("无丢包时不应重传: %d", res.Sender.Retransmits)
	}

	sent := sentAt(res.Trace, arq.FrameData)
	for i, at := range []time.Duration{0, time.Second, 2 * time.Second} {
		if !equalSeqs(sent[at], []uint32{uint32(i)}) {
			t.Errorf("t=%v 应发送 DATA(%d): %v", at, i, sent[at])
		}
	}
	if !equalSeqs(res.Delivered, seqRange(2)) {
		t.Errorf("交付不正确: %v", res.Delivered)
	}
}

func TestGoBackNLostAckCoveredByCumulativeAck(t *testing.T) {
	sc := scenario(arq.GoBackN, 3, 4)
	sc.Reverse.Drops = []DropRule{{Frame: arq.NewAckFrame(1), Nth: 1}}

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if res.Sender.Retransmits != 0 {
		t.Errorf("ACK(2) 累积确认了 1, 不应重传: %d", res.Sender.Retransmits)
	}
	if res.FinishedAt != 2*time.Second {
		t.Errorf("完成时间不正确: %v", res.FinishedAt)
	}
	if res.Reverse.Dropped != 1 {
		t.Errorf("应丢弃一个 ACK: %d", res.Reverse.Dropped)
	}
}

func TestGoBackNLostDataResendsWindow(t *testing.T) {
	sc := scenario(arq.GoBackN, 3, 4)
	sc.Forward.Drops = []DropRule{{Frame: arq.NewDataFrame(1), Nth: 1}}

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	sent := sentAt(res.Trace, arq.FrameData)
	if !equalSeqs(sent[0], []uint32{0, 1, 2}) {
		t.Errorf("t=0 发送不正确: %v", sent[0])
	}
	// t=2s Seq=1 超时, 重传 [base=1, next=4)
	if !equalSeqs(sent[2*time.Second], []uint32{1, 2, 3}) {
		t.Errorf("t=2s 应回退重传 1,2,3: %v", sent[2*time.Second])
	}
	if res.Receiver.OutOfWindow != 2 {
		t.Errorf("接收端应丢弃乱序的 2 和 3: %d", res.Receiver.OutOfWindow)
	}
	if res.Sender.Retransmits != 3 || res.FinishedAt != 4*time.Second {
		t.Errorf("重传/完成时间不正确: retransmits=%d at=%v", res.Sender.Retransmits, res.FinishedAt)
	}
	if !equalSeqs(res.Delivered, seqRange(4)) {
		t.Errorf("交付不正确: %v", res.Delivered)
	}
}

func TestGoBackNDuplicateDataReAcked(t *testing.T) {
	sc := scenario(arq.GoBackN, 3, 4)
	sc.Reverse.Drops = []DropRule{
		{Frame: arq.NewAckFrame(0), Nth: 1},
		{Frame: arq.NewAckFrame(1), Nth: 1},
		{Frame: arq.NewAckFrame(2), Nth: 1},
	}

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if res.Receiver.Duplicates != 3 {
		t.Errorf("重传的 0,1,2 应作为重复帧重新确认: %d", res.Receiver.Duplicates)
	}
	if !equalSeqs(res.Delivered, seqRange(4)) {
		t.Errorf("重复帧不应重复交付: %v", res.Delivered)
	}
}

func TestSelectiveRepeatLostData(t *testing.T) {
	sc := scenario(arq.SelectiveRepeat, 3, 2)
	sc.Forward.Drops = []DropRule{{Frame: arq.NewDataFrame(1), Nth: 1}}

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	sent := sentAt(res.Trace, arq.FrameData)
	if !equalSeqs(sent[2*time.Second], []uint32{1}) {
		t.Errorf("t=2s 只应重传 DATA(1): %v", sent[2*time.Second])
	}
	if res.Sender.Retransmits != 1 {
		t.Errorf("只应重传一次: %d", res.Sender.Retransmits)
	}

	// 缓存的 2 随 1 一起交付
	delivered := res.Trace.Filter(ActionDeliver, arq.FrameData)
	if len(delivered) != 3 {
		t.Fatalf("交付事件数量不正确: %v", delivered)
	}
	if delivered[1].At != 2500*time.Millisecond || delivered[2].At != 2500*time.Millisecond {
		t.Errorf("1 和 2 应在同一时刻交付: %v", delivered)
	}
	if res.FinishedAt != 3*time.Second {
		t.Errorf("完成时间不正确: %v", res.FinishedAt)
	}
}

func TestRandomLossAllPolicies(t *testing.T) {
	for _, p := range []arq.Policy{arq.StopAndWait, arq.GoBackN, arq.SelectiveRepeat} {
		for seed := int64(1); seed <= 5; seed++ {
			sc := scenario(p, 4, 29)
			sc.Deadline = time.Hour
			sc.Forward.LossRate, sc.Forward.DuplicateRate, sc.Forward.Seed = 0.2, 0.1, seed
			sc.Reverse.LossRate, sc.Reverse.DuplicateRate, sc.Reverse.Seed = 0.2, 0.1, seed+100
			sc.Forward.Jitter = 300 * time.Millisecond
			sc.Reverse.Jitter = 300 * time.Millisecond

			res, err := Run(context.Background(), sc)
			if err != nil {
				t.Fatalf("%s seed=%d 运行失败: %v", p, seed, err)
			}
			if !res.Drained || !equalSeqs(res.Delivered, seqRange(29)) {
				t.Errorf("%s seed=%d: drained=%v delivered=%v", p, seed, res.Drained, res.Delivered)
			}
			if res.Receiver.Delivered != 30 {
				t.Errorf("%s seed=%d: 每个序列号只能交付一次, got %d", p, seed, res.Receiver.Delivered)
			}
		}
	}
}

func TestRunDeadline(t *testing.T) {
	sc := scenario(arq.GoBackN, 4, 9)
	sc.Forward.LossRate = 1
	sc.Deadline = 30 * time.Second

	res, err := Run(context.Background(), sc)
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("应返回 ErrDeadline: %v", err)
	}
	if res == nil || res.Drained || res.FinishedAt != 30*time.Second {
		t.Errorf("结果不正确: %+v", res)
	}
	if res.Sender.Base != 0 || res.Receiver.Delivered != 0 {
		t.Errorf("全丢包时不应有进展: base=%d delivered=%d", res.Sender.Base, res.Receiver.Delivered)
	}
}

func TestRunDelayedStart(t *testing.T) {
	sc := scenario(arq.StopAndWait, 1, 0)
	sc.StartAt = time.Second

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if res.FinishedAt != 2*time.Second {
		t.Errorf("延迟 1s 启动应在 2s 完成: %v", res.FinishedAt)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	sc := scenario(arq.GoBackN, 0, 9)
	if _, err := Run(context.Background(), sc); !errors.Is(err, arq.ErrInvalidConfig) {
		t.Errorf("应返回 ErrInvalidConfig: %v", err)
	}
}
