// =============================================================================
// 文件: internal/transport/loop_test.go
// 描述: 事件循环测试
// =============================================================================
package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*EventLoop, context.CancelFunc) {
	t.Helper()
	l := NewEventLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	return l, cancel
}

func TestEventLoopAfterFunc(t *testing.T) {
	l, cancel := startLoop(t)
	defer cancel()

	fired := make(chan time.Duration, 1)
	l.Post(func() {
		l.AfterFunc(20*time.Millisecond, func() { fired <- l.Now() })
	})

	select {
	case at := <-fired:
		if at < 20*time.Millisecond {
			t.Errorf("提前触发: %v", at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("定时器未触发")
	}
}

func TestEventLoopTimerStop(t *testing.T) {
	l, cancel := startLoop(t)
	defer cancel()

	fired := make(chan struct{}, 1)
	var stopped bool
	err := l.Do(context.Background(), func() {
		h := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
		stopped = h.Stop()
		if h.Stop() {
			t.Error("重复撤销应返回 false")
		}
	})
	if err != nil || !stopped {
		t.Fatalf("撤销失败: stopped=%v err=%v", stopped, err)
	}

	select {
	case <-fired:
		t.Error("撤销的定时器不应执行")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventLoopDo(t *testing.T) {
	l, cancel := startLoop(t)

	counter := 0
	for i := 0; i < 10; i++ {
		if err := l.Do(context.Background(), func() { counter++ }); err != nil {
			t.Fatalf("Do 失败: %v", err)
		}
	}
	if counter != 10 {
		t.Errorf("counter = %d, want 10", counter)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for l.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("停止后 Do 应返回 ErrLoopStopped: %v", err)
	}
	if l.Post(func() {}) {
		t.Error("停止后 Post 应返回 false")
	}
}

func TestEventLoopRunTwice(t *testing.T) {
	l := NewEventLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Run(ctx)
	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do 失败: %v", err)
	}
	if err := l.Run(ctx); !errors.Is(err, ErrLoopRunning) {
		t.Errorf("重复 Run 应返回 ErrLoopRunning: %v", err)
	}
}
