// =============================================================================
// 文件: internal/arq/receiver_test.go
// 描述: 接收端测试 - 按序交付、重复帧、乱序缓存
// =============================================================================
package arq

import (
	"errors"
	"testing"
)

type testReceiver struct {
	*Receiver
	ch        *recorder
	delivered []uint32
}

func newTestReceiver(t *testing.T, cfg *Config) *testReceiver {
	t.Helper()
	tr := &testReceiver{ch: &recorder{}}
	r, err := NewReceiver(cfg, &fakeClock{}, tr.ch, func(seq uint32) {
		tr.delivered = append(tr.delivered, seq)
	})
	if err != nil {
		t.Fatalf("创建接收端失败: %v", err)
	}
	tr.Receiver = r
	return tr
}

func TestReceiverInOrder(t *testing.T) {
	for _, p := range []Policy{StopAndWait, GoBackN, SelectiveRepeat} {
		t.Run(p.String(), func(t *testing.T) {
			r := newTestReceiver(t, testConfig(p, 3, 9))
			for seq := uint32(0); seq < 3; seq++ {
				if err := r.OnData(seq); err != nil {
					t.Fatalf("OnData(%d) 失败: %v", seq, err)
				}
			}
			if !equalSeqs(r.delivered, []uint32{0, 1, 2}) {
				t.Errorf("交付顺序不正确: %v", r.delivered)
			}
			if !equalSeqs(r.ch.seqs(FrameAck), []uint32{0, 1, 2}) {
				t.Errorf("ACK 不正确: %v", r.ch.seqs(FrameAck))
			}
			if r.Expected() != 3 {
				t.Errorf("expected 不正确: %d", r.Expected())
			}
		})
	}
}

func TestReceiverDuplicateReAcks(t *testing.T) {
	for _, p := range []Policy{StopAndWait, GoBackN, SelectiveRepeat} {
		t.Run(p.String(), func(t *testing.T) {
			r := newTestReceiver(t, testConfig(p, 3, 9))
			r.OnData(0)
			r.OnData(1)
			r.ch.reset()

			if err := r.OnData(0); err != nil {
				t.Errorf("重复帧不应返回错误: %v", err)
			}
			if !equalSeqs(r.ch.seqs(FrameAck), []uint32{0}) {
				t.Errorf("重复帧应重新确认: %v", r.ch.seqs(FrameAck))
			}
			if !equalSeqs(r.delivered, []uint32{0, 1}) {
				t.Errorf("重复帧不应重复交付: %v", r.delivered)
			}
			if st := r.Stats(); st.Duplicates != 1 || st.Expected != 2 {
				t.Errorf("统计不正确: %+v", st)
			}
		})
	}
}

func TestGoBackNReceiverDiscardsOutOfOrder(t *testing.T) {
	r := newTestReceiver(t, testConfig(GoBackN, 3, 9))
	r.OnData(0)
	r.ch.reset()

	if err := r.OnData(2); !errors.Is(err, ErrOutOfWindowData) {
		t.Errorf("乱序帧应返回 ErrOutOfWindowData: %v", err)
	}
	if len(r.ch.frames) != 0 {
		t.Errorf("乱序帧不应回 ACK: %v", r.ch.frames)
	}
	if r.Expected() != 1 || len(r.Buffered()) != 0 {
		t.Errorf("乱序帧不应改变状态: expected=%d buffered=%v", r.Expected(), r.Buffered())
	}
}

func TestSelectiveRepeatReceiverBuffers(t *testing.T) {
	r := newTestReceiver(t, testConfig(SelectiveRepeat, 3, 9))

	r.OnData(0)
	r.OnData(2)
	if !equalSeqs(r.delivered, []uint32{0}) {
		t.Errorf("Seq=2 应缓存而非交付: %v", r.delivered)
	}
	if !equalSeqs(r.Buffered(), []uint32{2}) || r.Expected() != 1 {
		t.Errorf("缓存状态不正确: buffered=%v expected=%d", r.Buffered(), r.Expected())
	}
	if !equalSeqs(r.ch.seqs(FrameAck), []uint32{0, 2}) {
		t.Errorf("乱序帧也应单独确认: %v", r.ch.seqs(FrameAck))
	}

	r.OnData(1)
	if r.Expected() != 3 {
		t.Errorf("expected 应一步跳到 3: %d", r.Expected())
	}
	if !equalSeqs(r.delivered, []uint32{0, 1, 2}) {
		t.Errorf("缓存帧应随之交付: %v", r.delivered)
	}
	if len(r.Buffered()) != 0 {
		t.Errorf("交付后缓存应清空: %v", r.Buffered())
	}
}

func TestSelectiveRepeatReceiverWindow(t *testing.T) {
	r := newTestReceiver(t, testConfig(SelectiveRepeat, 3, 9))

	if err := r.OnData(3); !errors.Is(err, ErrOutOfWindowData) {
		t.Errorf("窗口外的帧应返回 ErrOutOfWindowData: %v", err)
	}
	if len(r.ch.frames) != 0 {
		t.Errorf("窗口外的帧不应回 ACK: %v", r.ch.frames)
	}

	r.OnData(2)
	r.OnData(2)
	if st := r.Stats(); st.Duplicates != 1 || st.Buffered != 1 {
		t.Errorf("缓存内重复帧统计不正确: %+v", st)
	}
	if !equalSeqs(r.ch.seqs(FrameAck), []uint32{2, 2}) {
		t.Errorf("缓存内重复帧应重新确认: %v", r.ch.seqs(FrameAck))
	}
}

func TestReceiverBeyondMaxSequence(t *testing.T) {
	r := newTestReceiver(t, testConfig(SelectiveRepeat, 4, 1))
	r.OnData(0)

	if err := r.OnData(2); !errors.Is(err, ErrOutOfWindowData) {
		t.Errorf("超过 MaxSequence 的帧应被丢弃: %v", err)
	}
	r.OnData(1)
	if !r.Complete() {
		t.Error("全部交付后应完成")
	}
}

func TestSelectiveRepeatReceiverOrderIndependent(t *testing.T) {
	// 同一组帧以任意顺序到达, 最终 expected 相同
	orders := [][]uint32{
		{0, 1, 2, 2, 1, 0},
		{2, 1, 0, 0, 1, 2},
		{1, 2, 1, 0, 2, 0},
		{2, 0, 2, 1, 0, 1},
	}
	for _, order := range orders {
		r := newTestReceiver(t, testConfig(SelectiveRepeat, 3, 9))
		for _, seq := range order {
			r.OnData(seq)
		}
		if r.Expected() != 3 {
			t.Errorf("顺序 %v: expected=%d, want 3", order, r.Expected())
		}
		if !equalSeqs(r.delivered, []uint32{0, 1, 2}) {
			t.Errorf("顺序 %v: 交付不正确 %v", order, r.delivered)
		}
	}
}

func TestReceiverOnReceiveDropsBadFrames(t *testing.T) {
	r := newTestReceiver(t, testConfig(GoBackN, 3, 9))

	r.OnReceive([]byte{0, 0, 0})
	r.OnReceive(NewAckFrame(0).Encode())
	if st := r.Stats(); st.Dropped != 2 || st.DataReceived != 0 {
		t.Errorf("畸形帧和 ACK 帧应被丢弃: %+v", st)
	}

	r.OnReceive(NewDataFrame(0).Encode())
	if r.Expected() != 1 {
		t.Errorf("数据帧应被处理: expected=%d", r.Expected())
	}
}
