// =============================================================================
// 文件: internal/sim/scheduler.go
// 描述: 离散事件调度器 - 逻辑时钟, 事件按 (时间, 插入顺序) 串行执行
// =============================================================================
package sim

import (
	"context"
	"errors"
	"time"

	"github.com/google/btree"

	"github.com/mrcgq/arq/internal/arq"
)

var (
	// ErrDeadline 到达运行时限
	ErrDeadline = errors.New("sim: 到达运行时限")

	// ErrIdle 事件队列已空但停止条件未满足
	ErrIdle = errors.New("sim: 事件队列已空")
)

// ctxCheckEvery 每执行多少个事件检查一次 ctx
const ctxCheckEvery = 256

type event struct {
	at   time.Duration
	id   uint64
	fn   func()
	s    *Scheduler
	done bool
}

// Stop 撤销事件
func (e *event) Stop() bool {
	if e.done {
		return false
	}
	e.done = true
	e.s.queue.Delete(e)
	e.s.cancelled++
	return true
}

func eventLess(a, b *event) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.id < b.id
}

// Scheduler 离散事件调度器, 实现 arq.Clock
type Scheduler struct {
	now    time.Duration
	nextID uint64
	queue  *btree.BTreeG[*event]

	executed  uint64
	cancelled uint64
}

// NewScheduler 创建调度器, 逻辑时间从 0 开始
func NewScheduler() *Scheduler {
	return &Scheduler{
		queue: btree.NewG[*event](8, eventLess),
	}
}

// Now 当前逻辑时间
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// AfterFunc 在 d 之后执行 f, 同一时刻的事件按调度顺序执行
func (s *Scheduler) AfterFunc(d time.Duration, f func()) arq.Stopper {
	if d < 0 {
		d = 0
	}
	s.nextID++
	e := &event{at: s.now + d, id: s.nextID, fn: f, s: s}
	s.queue.ReplaceOrInsert(e)
	return e
}

// Step 执行下一个事件, 队列为空时返回 false
func (s *Scheduler) Step() bool {
	e, ok := s.queue.DeleteMin()
	if !ok {
		return false
	}
	e.done = true
	s.now = e.at
	s.executed++
	e.fn()
	return true
}

// Pending 待执行事件数
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Executed 已执行事件数
func (s *Scheduler) Executed() uint64 {
	return s.executed
}

// RunUntil 执行事件直到 stop 返回 true
// 下一个事件晚于 deadline 时停在 deadline 并返回 ErrDeadline。
func (s *Scheduler) RunUntil(ctx context.Context, deadline time.Duration, stop func() bool) error {
	for n := 0; ; n++ {
		if stop != nil && stop() {
			return nil
		}
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		e, ok := s.queue.Min()
		if !ok {
			return ErrIdle
		}
		if e.at > deadline {
			s.now = deadline
			return ErrDeadline
		}
		s.Step()
	}
}
