// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 帧通道 - 固定对端或从最近的数据报学习对端地址
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// 缓冲区配置
	defaultSocketBufferSize = 1024 * 1024
	minSocketBufferSize     = 64 * 1024

	udpReadTimeout = 200 * time.Millisecond
)

// UDPChannel UDP 帧通道
type UDPChannel struct {
	conn     *net.UDPConn
	logLevel int

	mu     sync.RWMutex
	remote *net.UDPAddr
	fixed  bool // 对端由配置指定, 丢弃其他来源

	counters channelCounters
	closed   int32
}

// ListenUDP 监听 listen; remote 非空时只与该地址通信
func ListenUDP(listen, remote string, logLevel int) (*UDPChannel, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("解析监听地址: %w", err)
	}

	c := &UDPChannel{logLevel: logLevel}
	if remote != "" {
		c.remote, err = net.ResolveUDPAddr("udp", remote)
		if err != nil {
			return nil, fmt.Errorf("解析对端地址: %w", err)
		}
		c.fixed = true
	}

	c.conn, err = net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}
	c.setupBuffers(defaultSocketBufferSize)

	c.log(1, "UDP 通道已启动: %s -> %s", c.conn.LocalAddr(), c.peerString())
	return c, nil
}

// setupBuffers 设置系统缓冲区, 失败时逐级降低
func (c *UDPChannel) setupBuffers(size int) {
	for s := size; s >= minSocketBufferSize; s /= 2 {
		if err := c.conn.SetReadBuffer(s); err == nil {
			break
		}
	}
	for s := size; s >= minSocketBufferSize; s /= 2 {
		if err := c.conn.SetWriteBuffer(s); err == nil {
			break
		}
	}
}

// Send 发送一帧到对端
func (c *UDPChannel) Send(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrChannelClosed
	}
	c.mu.RLock()
	remote := c.remote
	c.mu.RUnlock()
	if remote == nil {
		atomic.AddUint64(&c.counters.sendErrors, 1)
		return ErrNoPeer
	}

	n, err := c.conn.WriteToUDP(frame, remote)
	if err != nil {
		atomic.AddUint64(&c.counters.sendErrors, 1)
		return fmt.Errorf("UDP 发送: %w", err)
	}
	c.counters.sent(n)
	return nil
}

// ReadLoop 读取循环
func (c *UDPChannel) ReadLoop(ctx context.Context, handle func(frame []byte)) error {
	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if atomic.LoadInt32(&c.closed) == 1 {
			return nil
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("UDP 读取: %w", err)
		}

		if !c.accept(addr) {
			atomic.AddUint64(&c.counters.foreignFrames, 1)
			c.log(2, "丢弃来自 %s 的数据报", addr)
			continue
		}

		c.counters.recv(n)
		frame := make([]byte, n)
		copy(frame, buf[:n])
		handle(frame)
	}
}

// accept 检查来源, 未固定对端时记录最新来源
func (c *UDPChannel) accept(addr *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fixed {
		return c.remote.IP.Equal(addr.IP) && c.remote.Port == addr.Port
	}
	if c.remote == nil || c.remote.String() != addr.String() {
		c.log(1, "对端地址: %s", addr)
		c.remote = addr
	}
	return true
}

// LocalAddr 本地地址
func (c *UDPChannel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// RemoteAddr 当前对端地址, 未知时为 nil
func (c *UDPChannel) RemoteAddr() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

func (c *UDPChannel) peerString() string {
	if r := c.RemoteAddr(); r != nil {
		return r.String()
	}
	return "(待学习)"
}

// Stats 获取统计
func (c *UDPChannel) Stats() ChannelStats {
	return c.counters.snapshot()
}

// Close 关闭通道
func (c *UDPChannel) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.log(1, "UDP 通道已关闭")
	return c.conn.Close()
}

func (c *UDPChannel) log(level int, format string, args ...interface{}) {
	logf("UDP", c.logLevel, level, format, args...)
}

var _ FrameChannel = (*UDPChannel)(nil)
