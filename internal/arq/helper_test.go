// =============================================================================
// 文件: internal/arq/helper_test.go
// 描述: 测试辅助 - 手动推进的时钟与记录帧的通道
// =============================================================================
package arq

import (
	"io"
	"time"
)

type fakeEvent struct {
	at      time.Duration
	id      uint64
	f       func()
	stopped bool
	fired   bool
	leaky   bool // Stop 不生效, 模拟无法撤回已入队事件的时钟
}

func (e *fakeEvent) Stop() bool {
	if e.stopped || e.fired {
		return false
	}
	if e.leaky {
		return false
	}
	e.stopped = true
	return true
}

type fakeClock struct {
	now    time.Duration
	nextID uint64
	events []*fakeEvent
	leaky  bool
}

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.nextID++
	e := &fakeEvent{at: c.now + d, id: c.nextID, f: f, leaky: c.leaky}
	c.events = append(c.events, e)
	return e
}

// Advance 推进时间并按 (时间, 顺序) 执行到期事件
func (c *fakeClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		var next *fakeEvent
		for _, e := range c.events {
			if e.stopped || e.fired || e.at > target {
				continue
			}
			if next == nil || e.at < next.at || (e.at == next.at && e.id < next.id) {
				next = e
			}
		}
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		next.f()
	}
	c.now = target
}

// recorder 记录发出的帧
type recorder struct {
	frames []Frame
	err    error
}

func (r *recorder) Send(raw []byte) error {
	if r.err != nil {
		return r.err
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) reset() { r.frames = nil }

func (r *recorder) seqs(kind FrameKind) []uint32 {
	var out []uint32
	for _, f := range r.frames {
		if f.Kind == kind {
			out = append(out, f.Seq)
		}
	}
	return out
}

func testConfig(p Policy, window int, maxSeq uint32) *Config {
	return &Config{
		Policy:      p,
		WindowSize:  window,
		MaxSequence: maxSeq,
		RTO:         2 * time.Second,
		LogLevel:    2,
		LogOutput:   io.Discard,
	}
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
