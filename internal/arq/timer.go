// =============================================================================
// 文件: internal/arq/timer.go
// 描述: ARQ 引擎 - 定时器服务 (每个序列号最多一个活动定时器)
// =============================================================================
package arq

import "time"

// TimerHandle 定时器句柄
type TimerHandle struct {
	Key uint32
	id  uint64
}

// Valid 句柄是否曾被分配
func (h TimerHandle) Valid() bool { return h.id != 0 }

type timerEntry struct {
	id       uint64
	deadline time.Duration
	stop     Stopper
}

// TimerStats 定时器统计
type TimerStats struct {
	Scheduled  uint64
	Cancelled  uint64
	Superseded uint64
	Fired      uint64
	Misuse     uint64
}

// TimerService 定时器服务, 每个引擎实例独占一个
type TimerService struct {
	clock  Clock
	active map[uint32]*timerEntry
	nextID uint64
	stats  TimerStats
}

// NewTimerService 创建定时器服务
func NewTimerService(clock Clock) *TimerService {
	return &TimerService{
		clock:  clock,
		active: make(map[uint32]*timerEntry),
	}
}

// Schedule 为 key 调度定时器, 已有定时器先被取消
func (s *TimerService) Schedule(key uint32, d time.Duration, cb func(key uint32)) TimerHandle {
	if old, ok := s.active[key]; ok {
		old.stop.Stop()
		delete(s.active, key)
		s.stats.Superseded++
	}

	s.nextID++
	entry := &timerEntry{
		id:       s.nextID,
		deadline: s.clock.Now() + d,
	}
	id := entry.id
	entry.stop = s.clock.AfterFunc(d, func() {
		// 时钟可能无法撤回已入队的事件, 这里再校验一次
		cur, ok := s.active[key]
		if !ok || cur.id != id {
			s.stats.Misuse++
			return
		}
		delete(s.active, key)
		s.stats.Fired++
		cb(key)
	})
	s.active[key] = entry
	s.stats.Scheduled++

	return TimerHandle{Key: key, id: id}
}

// Cancel 取消句柄对应的定时器, 句柄已失效时为空操作
func (s *TimerService) Cancel(h TimerHandle) bool {
	cur, ok := s.active[h.Key]
	if !ok || cur.id != h.id {
		s.stats.Misuse++
		return false
	}
	cur.stop.Stop()
	delete(s.active, h.Key)
	s.stats.Cancelled++
	return true
}

// CancelKey 取消 key 的活动定时器
func (s *TimerService) CancelKey(key uint32) bool {
	cur, ok := s.active[key]
	if !ok {
		s.stats.Misuse++
		return false
	}
	return s.Cancel(TimerHandle{Key: key, id: cur.id})
}

// Active key 是否有活动定时器
func (s *TimerService) Active(key uint32) bool {
	_, ok := s.active[key]
	return ok
}

// Deadline 活动定时器的触发时间
func (s *TimerService) Deadline(key uint32) (time.Duration, bool) {
	cur, ok := s.active[key]
	if !ok {
		return 0, false
	}
	return cur.deadline, true
}

// Len 活动定时器数量
func (s *TimerService) Len() int {
	return len(s.active)
}

// Stop 取消全部定时器
func (s *TimerService) Stop() {
	for key, cur := range s.active {
		cur.stop.Stop()
		delete(s.active, key)
		s.stats.Cancelled++
	}
}

// Stats 获取统计
func (s *TimerService) Stats() TimerStats {
	return s.stats
}
