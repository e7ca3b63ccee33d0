// =============================================================================
// 文件: internal/transport/types.go
// 描述: 传输层统一类型定义 - 帧通道接口、角色、统计
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mrcgq/arq/internal/arq"
)

var (
	// ErrLoopStopped 事件循环已停止
	ErrLoopStopped = errors.New("transport: 事件循环已停止")

	// ErrLoopRunning 事件循环已在运行
	ErrLoopRunning = errors.New("transport: 事件循环已在运行")

	// ErrNoPeer 尚未获知对端地址
	ErrNoPeer = errors.New("transport: 对端地址未知")

	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("transport: 通道已关闭")
)

// FrameChannel 真实的帧通道
type FrameChannel interface {
	arq.Channel

	// ReadLoop 读取帧直到 ctx 结束或通道关闭, handle 在读取协程上调用
	ReadLoop(ctx context.Context, handle func(frame []byte)) error

	Stats() ChannelStats
	Close() error
}

// Role 节点角色
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ParseRole 解析角色
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sender", "send", "tx":
		return RoleSender, nil
	case "receiver", "recv", "rx":
		return RoleReceiver, nil
	}
	return "", fmt.Errorf("未知角色: %q", s)
}

// ChannelStats 通道统计
type ChannelStats struct {
	FramesSent    uint64
	FramesRecv    uint64
	BytesSent     uint64
	BytesRecv     uint64
	SendErrors    uint64
	ForeignFrames uint64 // 来自非对端地址或非二进制消息
}

type channelCounters struct {
	framesSent    uint64
	framesRecv    uint64
	bytesSent     uint64
	bytesRecv     uint64
	sendErrors    uint64
	foreignFrames uint64
}

func (c *channelCounters) sent(n int) {
	atomic.AddUint64(&c.framesSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(n))
}

func (c *channelCounters) recv(n int) {
	atomic.AddUint64(&c.framesRecv, 1)
	atomic.AddUint64(&c.bytesRecv, uint64(n))
}

func (c *channelCounters) snapshot() ChannelStats {
	return ChannelStats{
		FramesSent:    atomic.LoadUint64(&c.framesSent),
		FramesRecv:    atomic.LoadUint64(&c.framesRecv),
		BytesSent:     atomic.LoadUint64(&c.bytesSent),
		BytesRecv:     atomic.LoadUint64(&c.bytesRecv),
		SendErrors:    atomic.LoadUint64(&c.sendErrors),
		ForeignFrames: atomic.LoadUint64(&c.foreignFrames),
	}
}

func logf(component string, logLevel, level int, format string, args ...interface{}) {
	if level > logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [%s] %s\n", prefix, time.Now().Format("15:04:05"), component, fmt.Sprintf(format, args...))
}
