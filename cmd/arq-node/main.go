// =============================================================================
// 文件: cmd/arq-node/main.go
// 描述: ARQ 节点 - 通过 UDP 或 WebSocket 运行发送端/接收端
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mrcgq/arq/internal/config"
	"github.com/mrcgq/arq/internal/metrics"
	"github.com/mrcgq/arq/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置")
	role := flag.String("role", "", "角色: sender, receiver")
	mode := flag.String("mode", "", "传输: udp, websocket")
	listen := flag.String("listen", "", "本地监听地址")
	remote := flag.String("remote", "", "对端地址 (UDP host:port 或 ws://host:port/path)")
	policy := flag.String("policy", "", "策略: stop-and-wait, go-back-n, selective-repeat")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arq-node %s (built %s)\n", Version, BuildTime)
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成: config.example.yaml")
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *role != "" {
		cfg.Transport.Role = *role
	}
	if *mode != "" {
		cfg.Transport.Mode = *mode
	}
	if *listen != "" {
		cfg.Transport.Listen = *listen
	}
	if *remote != "" {
		cfg.Transport.Remote = *remote
	}
	if *policy != "" {
		cfg.ARQ.Policy = *policy
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	opts, err := cfg.NodeOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	logLevel := opts.Engine.LogLevel
	opts.Deliver = func(seq uint32) {
		if logLevel >= 1 {
			fmt.Printf("[INFO] %s [App] 交付 #%d\n", time.Now().Format("15:04:05"), seq)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Transport.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Transport.TimeoutSec)*time.Second)
		defer cancel()
	}

	ch, wsServer, err := openChannel(ctx, cfg, opts.Role, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "建立通道失败: %v\n", err)
		os.Exit(1)
	}
	if wsServer != nil {
		defer wsServer.Stop()
	}

	node, err := transport.NewNode(opts, ch)
	if err != nil {
		ch.Close()
		fmt.Fprintf(os.Stderr, "创建节点失败: %v\n", err)
		os.Exit(1)
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		if err := metricsServer.RegisterCollector(metrics.NewNodeCollector(node)); err != nil {
			fmt.Fprintf(os.Stderr, "注册收集器失败: %v\n", err)
		}
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return nodeHealth(node)
		})
		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
			metricsServer = nil
		}
	}

	printBanner(cfg, ch, metricsServer)

	runErr := node.Run(ctx)
	ch.Close()

	st, _ := node.Stats(context.Background())
	printStats(st)

	if metricsServer != nil {
		metricsServer.Stop()
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Println("\n已中断")
		} else {
			fmt.Fprintf(os.Stderr, "运行失败: %v\n", runErr)
		}
		os.Exit(1)
	}
}

// openChannel 按模式与角色建立通道
func openChannel(ctx context.Context, cfg *config.Config, role transport.Role, logLevel int) (transport.FrameChannel, *transport.WebSocketServer, error) {
	t := cfg.Transport
	if t.Mode != "websocket" {
		ch, err := transport.ListenUDP(t.Listen, t.Remote, logLevel)
		if err != nil {
			return nil, nil, err
		}
		return ch, nil, nil
	}

	if role == transport.RoleSender {
		ch, err := transport.DialWebSocket(ctx, wsURL(t.Remote, t.Path), logLevel)
		if err != nil {
			return nil, nil, err
		}
		return ch, nil, nil
	}

	srv := transport.NewWebSocketServer(t.Listen, t.Path, logLevel)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}
	fmt.Printf("等待对端连接 ws://%s%s ...\n", srv.Addr(), t.Path)
	ch, err := srv.Accept(ctx)
	if err != nil {
		srv.Stop()
		return nil, nil, err
	}
	return ch, srv, nil
}

// wsURL 补全 WebSocket 地址
func wsURL(remote, path string) string {
	if strings.HasPrefix(remote, "ws://") || strings.HasPrefix(remote, "wss://") {
		return remote
	}
	return "ws://" + remote + path
}

func nodeHealth(node *transport.Node) metrics.HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	st, err := node.Stats(ctx)
	if err != nil {
		return metrics.HealthStatus{
			Status: "unhealthy",
			Components: map[string]metrics.ComponentHealth{
				"node": {Status: "unresponsive", Message: err.Error()},
			},
		}
	}

	status := "running"
	if st.Done {
		status = "done"
	}
	return metrics.HealthStatus{
		Status: "healthy",
		Components: map[string]metrics.ComponentHealth{
			"node": {Status: status, Message: fmt.Sprintf("%s/%s", st.Role, st.Policy)},
		},
	}
}

func printBanner(cfg *config.Config, ch transport.FrameChannel, ms *metrics.MetricsServer) {
	fmt.Println("========================================")
	fmt.Printf("  ARQ 节点 %s\n", Version)
	fmt.Println("========================================")
	fmt.Printf("  角色:     %s\n", cfg.Transport.Role)
	fmt.Printf("  传输:     %s\n", cfg.Transport.Mode)
	fmt.Printf("  策略:     %s (窗口 %d, 序列号 0..%d, RTO %dms)\n",
		cfg.ARQ.Policy, cfg.ARQ.WindowSize, cfg.ARQ.MaxSequence, cfg.ARQ.RTOMs)
	if u, ok := ch.(*transport.UDPChannel); ok {
		fmt.Printf("  本地:     %s\n", u.LocalAddr())
	}
	if cfg.Transport.Remote != "" {
		fmt.Printf("  对端:     %s\n", cfg.Transport.Remote)
	}
	if ms != nil {
		fmt.Printf("  Metrics:  http://%s%s\n", ms.Addr(), cfg.Metrics.Path)
	}
	fmt.Println("========================================")
}

func printStats(st *transport.NodeStats) {
	if st == nil {
		return
	}
	fmt.Println("----------------------------------------")
	fmt.Printf("  完成: %v\n", st.Done)
	if s := st.Sender; s != nil {
		fmt.Printf("  发送 %d, 重传 %d, 超时 %d, ACK %d (过期 %d, 未知 %d)\n",
			s.PacketsSent, s.Retransmits, s.Timeouts, s.AcksReceived, s.StaleAcks, s.UnknownAcks)
		fmt.Printf("  窗口 base=%d next=%d pending=%d\n", s.Base, s.Next, s.Pending)
	}
	if r := st.Receiver; r != nil {
		fmt.Printf("  收到 %d, 交付 %d, 重复 %d, 窗口外 %d, ACK %d\n",
			r.DataReceived, r.Delivered, r.Duplicates, r.OutOfWindow, r.AcksSent)
	}
	c := st.Channel
	fmt.Printf("  通道: 发出 %d 帧/%d 字节, 收到 %d 帧/%d 字节, 外来 %d\n",
		c.FramesSent, c.BytesSent, c.FramesRecv, c.BytesRecv, c.ForeignFrames)
	fmt.Println("----------------------------------------")
}
