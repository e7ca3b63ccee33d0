// =============================================================================
// 文件: internal/transport/loop.go
// 描述: 事件循环 - 实时时钟, 定时器回调与收到的帧在同一个协程上串行执行
// =============================================================================
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

const defaultLoopQueueSize = 1024

// EventLoop 事件循环, 实现 arq.Clock
type EventLoop struct {
	start  time.Time
	events chan func()
	stopCh chan struct{}
	once   sync.Once

	running  int32
	executed uint64
}

// NewEventLoop 创建事件循环, 时间从创建时刻开始计算
func NewEventLoop(queueSize int) *EventLoop {
	if queueSize <= 0 {
		queueSize = defaultLoopQueueSize
	}
	return &EventLoop{
		start:  time.Now(),
		events: make(chan func(), queueSize),
		stopCh: make(chan struct{}),
	}
}

// Now 自创建以来经过的时间
func (l *EventLoop) Now() time.Duration {
	return time.Since(l.start)
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

// Stop 只能在循环协程上调用
func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}

// AfterFunc 到期后把 f 投递到循环中执行
func (l *EventLoop) AfterFunc(d time.Duration, f func()) arq.Stopper {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			f()
		})
	})
	return t
}

// Post 投递任务, 循环已停止时返回 false
func (l *EventLoop) Post(fn func()) bool {
	select {
	case <-l.stopCh:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Do 在循环中执行 fn 并等待完成
// 不能在循环协程上调用。
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(done)
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return ErrLoopStopped
	}
}

// Run 执行任务直到 ctx 结束或 Stop
func (l *EventLoop) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return ErrLoopRunning
	}
	defer atomic.StoreInt32(&l.running, 0)

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case fn := <-l.events:
			fn()
			atomic.AddUint64(&l.executed, 1)
		}
	}
}

// Stop 停止循环, 可重复调用
func (l *EventLoop) Stop() {
	l.once.Do(func() {
		close(l.stopCh)
	})
}

// IsRunning 是否运行中
func (l *EventLoop) IsRunning() bool {
	return atomic.LoadInt32(&l.running) == 1
}

// Executed 已执行任务数
func (l *EventLoop) Executed() uint64 {
	return atomic.LoadUint64(&l.executed)
}
