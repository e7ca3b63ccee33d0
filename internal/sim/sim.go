// =============================================================================
// 文件: internal/sim/sim.go
// 描述: 实验运行器 - 发送端 + 接收端 + 双向模拟链路, 运行到全部确认或时限
// =============================================================================
package sim

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

// Scenario 一次实验
type Scenario struct {
	Engine   arq.Config
	Forward  LinkOptions // 发送端 -> 接收端
	Reverse  LinkOptions // 接收端 -> 发送端
	StartAt  time.Duration
	Submit   int // 0 表示一次性放开全部序列号
	Deadline time.Duration
}

// DefaultScenario 默认实验: 回退 N, 窗口 4, 15 个包, 单程 500ms
func DefaultScenario() Scenario {
	return Scenario{
		Engine:   *arq.DefaultConfig(),
		Forward:  DefaultLinkOptions(),
		Reverse:  DefaultLinkOptions(),
		Deadline: 10 * time.Minute,
	}
}

// Result 实验结果
type Result struct {
	Policy     arq.Policy
	Drained    bool
	FinishedAt time.Duration
	Sender     arq.SenderStats
	Receiver   arq.ReceiverStats
	Forward    LinkStats
	Reverse    LinkStats
	Delivered  []uint32
	Trace      *Trace
}

// Pair 一对已连接的端点
type Pair struct {
	Sched    *Scheduler
	Sender   *arq.Sender
	Receiver *arq.Receiver
	Forward  *Link
	Reverse  *Link
	Trace    *Trace

	Delivered []uint32

	drainedAt time.Duration
	logLevel  int
	out       io.Writer
}

// NewPair 按实验参数构建端点与链路
func NewPair(sc Scenario) (*Pair, error) {
	p := &Pair{
		Sched:    NewScheduler(),
		Trace:    &Trace{},
		logLevel: sc.Engine.LogLevel,
		out:      sc.Engine.LogOutput,
	}
	if p.out == nil {
		p.out = os.Stdout
	}
	p.Forward = NewLink("fwd", p.Sched, sc.Forward, p.Trace)
	p.Reverse = NewLink("rev", p.Sched, sc.Reverse, p.Trace)

	cfg := sc.Engine
	sender, err := arq.NewSender(&cfg, p.Sched, p.Forward)
	if err != nil {
		return nil, fmt.Errorf("创建发送端失败: %w", err)
	}
	receiver, err := arq.NewReceiver(&cfg, p.Sched, p.Reverse, func(seq uint32) {
		p.Delivered = append(p.Delivered, seq)
		p.Trace.Record(p.Sched.Now(), "app", ActionDeliver, arq.NewDataFrame(seq))
	})
	if err != nil {
		return nil, fmt.Errorf("创建接收端失败: %w", err)
	}

	p.Forward.Connect(receiver.OnReceive)
	p.Reverse.Connect(sender.OnReceive)
	sender.OnDrained(func(at time.Duration) {
		p.drainedAt = at
	})

	p.Sender = sender
	p.Receiver = receiver
	return p, nil
}

// Start 在 at 时刻提交 count 个序列号
func (p *Pair) Start(at time.Duration, count int) {
	if at <= 0 {
		p.Sender.Submit(count)
		return
	}
	p.Sched.AfterFunc(at, func() {
		p.Sender.Submit(count)
	})
}

// Run 运行到发送端全部确认
func (p *Pair) Run(ctx context.Context, deadline time.Duration) error {
	err := p.Sched.RunUntil(ctx, deadline, p.Sender.Drained)
	if p.Sender.Drained() {
		p.Sender.Close()
	}
	return err
}

// Result 汇总结果
func (p *Pair) Result() *Result {
	return &Result{
		Policy:     p.Sender.Policy(),
		Drained:    p.Sender.Drained(),
		FinishedAt: p.finishedAt(),
		Sender:     p.Sender.Stats(),
		Receiver:   p.Receiver.Stats(),
		Forward:    p.Forward.Stats(),
		Reverse:    p.Reverse.Stats(),
		Delivered:  append([]uint32(nil), p.Delivered...),
		Trace:      p.Trace,
	}
}

func (p *Pair) finishedAt() time.Duration {
	if p.Sender.Drained() {
		return p.drainedAt
	}
	return p.Sched.Now()
}

// Run 运行一次实验, 未全部确认时返回 ErrDeadline 或 ErrIdle, 结果仍然有效
func Run(ctx context.Context, sc Scenario) (*Result, error) {
	p, err := NewPair(sc)
	if err != nil {
		return nil, err
	}
	p.Start(sc.StartAt, sc.Submit)

	runErr := p.Run(ctx, sc.Deadline)
	res := p.Result()
	if runErr != nil {
		p.log(0, "实验未完成: %v (base=%d next=%d)", runErr, res.Sender.Base, res.Sender.Next)
		return res, runErr
	}
	p.log(1, "%s 完成于 %.3fs: 发送 %d, 重传 %d, 交付 %d",
		res.Policy, res.FinishedAt.Seconds(), res.Sender.PacketsSent, res.Sender.Retransmits, res.Receiver.Delivered)
	return res, nil
}

func (p *Pair) log(level int, format string, args ...interface{}) {
	if level > p.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Fprintf(p.out, "%s t=%.3fs [Sim] %s\n", prefix, p.Sched.Now().Seconds(), fmt.Sprintf(format, args...))
}
