// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 帧通道 - 每帧一条二进制消息
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsAcceptQueue  = 8
)

// WSChannel WebSocket 帧通道
type WSChannel struct {
	conn     *websocket.Conn
	logLevel int

	wmu       sync.Mutex
	counters  channelCounters
	closed    int32
	closeOnce sync.Once
}

// NewWSChannel 包装已建立的连接
func NewWSChannel(conn *websocket.Conn, logLevel int) *WSChannel {
	return &WSChannel{conn: conn, logLevel: logLevel}
}

// DialWebSocket 连接 ws:// 或 wss:// 地址
func DialWebSocket(ctx context.Context, url string, logLevel int) (*WSChannel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4 * 1024,
		WriteBufferSize:  4 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接 %s: %w", url, err)
	}
	c := NewWSChannel(conn, logLevel)
	c.log(1, "WebSocket 已连接: %s", url)
	return c, nil
}

// Send 发送一帧
func (c *WSChannel) Send(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrChannelClosed
	}

	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.conn.WriteMessage(websocket.BinaryMessage, frame)
	c.wmu.Unlock()

	if err != nil {
		atomic.AddUint64(&c.counters.sendErrors, 1)
		return fmt.Errorf("WebSocket 发送: %w", err)
	}
	c.counters.sent(len(frame))
	return nil
}

// ReadLoop 读取循环, ctx 结束时关闭连接
func (c *WSChannel) ReadLoop(ctx context.Context, handle func(frame []byte)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log(1, "对端关闭连接")
				return nil
			}
			return fmt.Errorf("WebSocket 读取: %w", err)
		}

		if messageType != websocket.BinaryMessage {
			atomic.AddUint64(&c.counters.foreignFrames, 1)
			continue
		}
		c.counters.recv(len(data))
		handle(data)
	}
}

// RemoteAddr 对端地址
func (c *WSChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Stats 获取统计
func (c *WSChannel) Stats() ChannelStats {
	return c.counters.snapshot()
}

// Close 发送关闭帧并关闭连接
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		c.wmu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *WSChannel) log(level int, format string, args ...interface{}) {
	logf("WebSocket", c.logLevel, level, format, args...)
}

var _ FrameChannel = (*WSChannel)(nil)

// =============================================================================
// 服务端
// =============================================================================

// WebSocketServer 接受 WebSocket 对端
type WebSocketServer struct {
	addr     string
	path     string
	logLevel int

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
	accepted   chan *WSChannel
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	activeConns int64
}

// NewWebSocketServer 创建服务器
func NewWebSocketServer(addr, path string, logLevel int) *WebSocketServer {
	if path == "" {
		path = "/arq"
	}
	return &WebSocketServer{
		addr:     addr,
		path:     path,
		logLevel: logLevel,
		accepted: make(chan *WSChannel, wsAcceptQueue),
		stopCh:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler HTTP 处理器
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	return mux
}

// Start 启动 HTTP 服务
func (s *WebSocketServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log(0, "HTTP 服务器错误: %v", err)
		}
	}()

	s.log(1, "WebSocket 服务器已启动: %s%s", ln.Addr(), s.path)
	return nil
}

// Addr 实际监听地址, 未启动时返回配置地址
func (s *WebSocketServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// handleWebSocket 升级连接并交给 Accept
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log(2, "WebSocket 升级失败: %v", err)
		return
	}

	c := NewWSChannel(conn, s.logLevel)
	select {
	case s.accepted <- c:
		atomic.AddInt64(&s.activeConns, 1)
		s.log(1, "WebSocket 对端: %s", r.RemoteAddr)
	case <-s.stopCh:
		c.Close()
	default:
		s.log(1, "接受队列已满, 拒绝 %s", r.RemoteAddr)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Accept 等待下一个对端
func (s *WebSocketServer) Accept(ctx context.Context) (*WSChannel, error) {
	select {
	case c := <-s.accepted:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, ErrChannelClosed
	}
}

// GetActiveConns 已接受的连接数
func (s *WebSocketServer) GetActiveConns() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// Stop 停止服务器, 关闭尚未被取走的连接
func (s *WebSocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()

	for {
		select {
		case c := <-s.accepted:
			c.Close()
		default:
			return
		}
	}
}

func (s *WebSocketServer) log(level int, format string, args ...interface{}) {
	logf("WebSocket", s.logLevel, level, format, args...)
}
