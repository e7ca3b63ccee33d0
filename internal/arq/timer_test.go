// =============================================================================
// 文件: internal/arq/timer_test.go
// 描述: 定时器服务测试
// =============================================================================
package arq

import (
	"testing"
	"time"
)

func TestTimerFiresAtDeadline(t *testing.T) {
	clock := &fakeClock{}
	s := NewTimerService(clock)

	var firedAt time.Duration
	calls := 0
	s.Schedule(3, 2*time.Second, func(key uint32) {
		calls++
		firedAt = clock.Now()
		if key != 3 {
			t.Errorf("key 不正确: got %d, want 3", key)
		}
	})

	if d, ok := s.Deadline(3); !ok || d != 2*time.Second {
		t.Errorf("Deadline 不正确: got %v %v", d, ok)
	}

	clock.Advance(5 * time.Second)
	if calls != 1 {
		t.Fatalf("回调次数不正确: got %d, want 1", calls)
	}
	if firedAt != 2*time.Second {
		t.Errorf("触发时间不正确: got %v, want 2s", firedAt)
	}
	if s.Active(3) || s.Len() != 0 {
		t.Error("触发后不应再有活动定时器")
	}
}

func TestTimerCancel(t *testing.T) {
	clock := &fakeClock{}
	s := NewTimerService(clock)

	calls := 0
	h := s.Schedule(1, time.Second, func(uint32) { calls++ })

	if !s.Cancel(h) {
		t.Error("首次取消应返回 true")
	}
	if s.Cancel(h) {
		t.Error("重复取消应为空操作")
	}
	if s.CancelKey(1) {
		t.Error("取消不存在的 key 应为空操作")
	}

	clock.Advance(2 * time.Second)
	if calls != 0 {
		t.Errorf("取消后回调不应执行: calls=%d", calls)
	}
	if st := s.Stats(); st.Misuse != 2 || st.Cancelled != 1 {
		t.Errorf("统计不正确: %+v", st)
	}
}

func TestTimerCancelAfterFire(t *testing.T) {
	clock := &fakeClock{}
	s := NewTimerService(clock)

	h := s.Schedule(1, time.Second, func(uint32) {})
	clock.Advance(time.Second)
	if s.Cancel(h) {
		t.Error("已触发的定时器取消应返回 false")
	}
}

func TestTimerRescheduleReplaces(t *testing.T) {
	clock := &fakeClock{}
	s := NewTimerService(clock)

	var fired []time.Duration
	cb := func(uint32) { fired = append(fired, clock.Now()) }

	old := s.Schedule(5, time.Second, cb)
	clock.Advance(500 * time.Millisecond)
	cur := s.Schedule(5, time.Second, cb)

	if s.Len() != 1 {
		t.Errorf("同一 key 只能有一个定时器: got %d", s.Len())
	}
	if s.Cancel(old) {
		t.Error("被替换的旧句柄不应能取消新定时器")
	}
	if !s.Active(5) {
		t.Error("新定时器应仍然活动")
	}

	clock.Advance(3 * time.Second)
	if len(fired) != 1 || fired[0] != 1500*time.Millisecond {
		t.Errorf("应只在新截止时间触发一次: %v", fired)
	}
	if s.Cancel(cur) {
		t.Error("已触发的句柄取消应返回 false")
	}
	if st := s.Stats(); st.Superseded != 1 || st.Fired != 1 {
		t.Errorf("统计不正确: %+v", st)
	}
}

func TestTimerGuardsLeakyClock(t *testing.T) {
	// 时钟无法撤回事件时, 已取消的回调也不能执行
	clock := &fakeClock{leaky: true}
	s := NewTimerService(clock)

	calls := 0
	h := s.Schedule(1, time.Second, func(uint32) { calls++ })
	s.Cancel(h)
	s.Schedule(2, time.Second, func(uint32) { calls++ })
	s.Schedule(2, 2*time.Second, func(uint32) { calls += 10 })

	clock.Advance(5 * time.Second)
	if calls != 10 {
		t.Errorf("只应执行最新的 key=2 定时器: calls=%d", calls)
	}
}

func TestTimerStop(t *testing.T) {
	clock := &fakeClock{}
	s := NewTimerService(clock)

	calls := 0
	for k := uint32(0); k < 4; k++ {
		s.Schedule(k, time.Second, func(uint32) { calls++ })
	}
	s.Stop()
	clock.Advance(2 * time.Second)

	if calls != 0 || s.Len() != 0 {
		t.Errorf("Stop 后不应有回调: calls=%d len=%d", calls, s.Len())
	}
}
