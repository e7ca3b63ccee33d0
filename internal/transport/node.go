// =============================================================================
// 文件: internal/transport/node.go
// 描述: ARQ 节点 - 事件循环 + 帧通道 + 发送端或接收端
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/arq/internal/arq"
)

// NodeOptions 节点参数
type NodeOptions struct {
	Role   Role
	Engine arq.Config

	// Submit 发送端启动时放开的序列号个数, 0 表示全部
	Submit int

	// Linger 完成后继续运行的时间 (接收端用于重新确认迟到的重传)
	Linger time.Duration

	QueueSize int

	// Deliver 接收端按序交付回调, 在事件循环上执行
	Deliver func(seq uint32)
}

// NodeStats 节点统计快照
type NodeStats struct {
	Role     Role
	Policy   arq.Policy
	Done     bool
	Sender   *arq.SenderStats
	Receiver *arq.ReceiverStats
	Timers   arq.TimerStats
	Channel  ChannelStats
}

// Node 运行在真实通道上的 ARQ 端点
type Node struct {
	opts NodeOptions
	loop *EventLoop
	ch   FrameChannel

	sender   *arq.Sender
	receiver *arq.Receiver

	done     chan struct{}
	doneOnce sync.Once

	mu    sync.Mutex
	final *NodeStats
}

// NewNode 创建节点
func NewNode(opts NodeOptions, ch FrameChannel) (*Node, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: 通道不能为空", arq.ErrInvalidConfig)
	}

	n := &Node{
		opts: opts,
		loop: NewEventLoop(opts.QueueSize),
		ch:   ch,
		done: make(chan struct{}),
	}

	cfg := opts.Engine
	var err error
	switch opts.Role {
	case RoleSender:
		n.sender, err = arq.NewSender(&cfg, n.loop, ch)
		if err == nil {
			n.sender.OnDrained(func(time.Duration) { n.finish() })
		}
	case RoleReceiver:
		deliver := opts.Deliver
		if deliver == nil {
			deliver = func(uint32) {}
		}
		n.receiver, err = arq.NewReceiver(&cfg, n.loop, ch, deliver)
	default:
		err = fmt.Errorf("%w: 未知角色 %q", arq.ErrInvalidConfig, opts.Role)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Run 运行到发送端全部确认 (接收端全部交付) 或 ctx 结束
func (n *Node) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.loop.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return n.ch.ReadLoop(gctx, func(frame []byte) {
			n.loop.Post(func() { n.handle(frame) })
		})
	})

	if n.sender != nil {
		n.loop.Post(func() { n.sender.Submit(n.opts.Submit) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-n.done:
		}
		if n.opts.Linger > 0 {
			t := time.NewTimer(n.opts.Linger)
			defer t.Stop()
			select {
			case <-gctx.Done():
			case <-t.C:
			}
		}
		cancel()
		return nil
	})

	err := g.Wait()
	n.loop.Stop()

	st := n.snapshot()
	if n.sender != nil {
		n.sender.Close()
	}
	n.mu.Lock()
	n.final = st
	n.mu.Unlock()

	if err == nil && !st.Done {
		err = parent.Err()
	}
	return err
}

func (n *Node) handle(frame []byte) {
	if n.sender != nil {
		n.sender.OnReceive(frame)
		return
	}
	n.receiver.OnReceive(frame)
	if n.receiver.Complete() {
		n.finish()
	}
}

func (n *Node) finish() {
	n.doneOnce.Do(func() {
		close(n.done)
	})
}

// Done 完成时关闭
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Stats 获取统计, 运行中时在事件循环上采样
func (n *Node) Stats(ctx context.Context) (*NodeStats, error) {
	n.mu.Lock()
	final := n.final
	n.mu.Unlock()
	if final != nil {
		return final, nil
	}

	var st *NodeStats
	if err := n.loop.Do(ctx, func() { st = n.snapshot() }); err != nil {
		return nil, err
	}
	return st, nil
}

// snapshot 只能在事件循环上或循环停止后调用
func (n *Node) snapshot() *NodeStats {
	st := &NodeStats{
		Role:    n.opts.Role,
		Channel: n.ch.Stats(),
	}
	if n.sender != nil {
		s := n.sender.Stats()
		st.Sender = &s
		st.Policy = n.sender.Policy()
		st.Timers = n.sender.Timers().Stats()
		st.Done = n.sender.Drained()
	} else {
		r := n.receiver.Stats()
		st.Receiver = &r
		st.Policy = n.receiver.Policy()
		st.Done = n.receiver.Complete()
	}
	return st
}

// Role 节点角色
func (n *Node) Role() Role { return n.opts.Role }

// Loop 事件循环
func (n *Node) Loop() *EventLoop { return n.loop }
