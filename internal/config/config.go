// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - ARQ 引擎、模拟链路、真实传输与指标服务
// =============================================================================
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/arq/internal/arq"
	"github.com/mrcgq/arq/internal/sim"
	"github.com/mrcgq/arq/internal/transport"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	ARQ       ARQConfig       `yaml:"arq"`
	Sim       SimConfig       `yaml:"sim"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ARQConfig 引擎配置
type ARQConfig struct {
	Policy      string `yaml:"policy"`
	WindowSize  int    `yaml:"window_size"`
	MaxSequence uint32 `yaml:"max_sequence"`
	RTOMs       int    `yaml:"rto_ms"`
}

// SimConfig 离散事件实验配置
type SimConfig struct {
	Forward    LinkConfig `yaml:"forward"`
	Reverse    LinkConfig `yaml:"reverse"`
	StartMs    int        `yaml:"start_ms"`
	Submit     int        `yaml:"submit"`
	DeadlineMs int        `yaml:"deadline_ms"`
	Trace      bool       `yaml:"trace"`
}

// LinkConfig 模拟链路配置
type LinkConfig struct {
	DelayMs       int          `yaml:"delay_ms"`
	JitterMs      int          `yaml:"jitter_ms"`
	LossRate      float64      `yaml:"loss_rate"`
	DuplicateRate float64      `yaml:"duplicate_rate"`
	Seed          int64        `yaml:"seed"`
	Drops         []DropConfig `yaml:"drops"`
}

// DropConfig 脚本丢弃规则
type DropConfig struct {
	Kind string `yaml:"kind"` // data, ack
	Seq  uint32 `yaml:"seq"`
	Nth  int    `yaml:"nth"` // 0 表示每一次
}

// TransportConfig 真实传输配置
type TransportConfig struct {
	Mode       string `yaml:"mode"` // udp, websocket
	Role       string `yaml:"role"` // sender, receiver
	Listen     string `yaml:"listen"`
	Remote     string `yaml:"remote"`
	Path       string `yaml:"path"`
	LingerMs   int    `yaml:"linger_ms"`
	TimeoutSec int    `yaml:"timeout_sec"` // 0 表示不限
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		ARQ: ARQConfig{
			Policy:      "go-back-n",
			WindowSize:  arq.DefaultWindowSize,
			MaxSequence: arq.DefaultMaxSequence,
			RTOMs:       int(arq.DefaultRTO / time.Millisecond),
		},

		Sim: SimConfig{
			Forward:    LinkConfig{DelayMs: 500, Seed: 1},
			Reverse:    LinkConfig{DelayMs: 500, Seed: 2},
			DeadlineMs: 600000,
		},

		Transport: TransportConfig{
			Mode:     "udp",
			Role:     "receiver",
			Listen:   ":54321",
			Path:     "/arq",
			LingerMs: 4000,
		},

		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.validateARQConfig(); err != nil {
		return err
	}
	if err := c.validateSimConfig(); err != nil {
		return err
	}
	if err := c.validateTransportConfig(); err != nil {
		return err
	}
	return c.validateMetricsConfig()
}

// validateARQConfig 验证引擎配置
func (c *Config) validateARQConfig() error {
	if _, err := arq.ParsePolicy(c.ARQ.Policy); err != nil {
		return fmt.Errorf("arq.policy: %w", err)
	}
	if c.ARQ.WindowSize < 1 || c.ARQ.WindowSize > 65536 {
		return fmt.Errorf("arq.window_size 需在 1-65536 之间")
	}
	if c.ARQ.MaxSequence == math.MaxUint32 {
		return fmt.Errorf("arq.max_sequence 需小于 %d", uint32(math.MaxUint32))
	}
	if c.ARQ.RTOMs < 1 || c.ARQ.RTOMs > 600000 {
		return fmt.Errorf("arq.rto_ms 需在 1-600000 之间")
	}
	return nil
}

// validateSimConfig 验证实验配置
func (c *Config) validateSimConfig() error {
	if err := c.Sim.Forward.validate("sim.forward"); err != nil {
		return err
	}
	if err := c.Sim.Reverse.validate("sim.reverse"); err != nil {
		return err
	}
	if c.Sim.StartMs < 0 {
		return fmt.Errorf("sim.start_ms 不能为负")
	}
	if c.Sim.Submit < 0 {
		return fmt.Errorf("sim.submit 不能为负")
	}
	if c.Sim.DeadlineMs < 1 {
		return fmt.Errorf("sim.deadline_ms 需大于 0")
	}
	return nil
}

func (l *LinkConfig) validate(name string) error {
	if l.DelayMs < 0 || l.JitterMs < 0 {
		return fmt.Errorf("%s: delay_ms 和 jitter_ms 不能为负", name)
	}
	if l.LossRate < 0 || l.LossRate > 1 {
		return fmt.Errorf("%s: loss_rate 需在 0-1 之间", name)
	}
	if l.DuplicateRate < 0 || l.DuplicateRate > 1 {
		return fmt.Errorf("%s: duplicate_rate 需在 0-1 之间", name)
	}
	for i, d := range l.Drops {
		if _, err := parseFrameKind(d.Kind); err != nil {
			return fmt.Errorf("%s.drops[%d]: %w", name, i, err)
		}
		if d.Nth < 0 {
			return fmt.Errorf("%s.drops[%d]: nth 不能为负", name, i)
		}
	}
	return nil
}

// validateTransportConfig 验证传输配置
func (c *Config) validateTransportConfig() error {
	t := &c.Transport

	switch t.Mode {
	case "udp", "websocket":
	case "":
		t.Mode = "udp"
	default:
		return fmt.Errorf("无效的 transport.mode: %s (支持: udp, websocket)", t.Mode)
	}

	role, err := transport.ParseRole(t.Role)
	if err != nil {
		return fmt.Errorf("transport.role: %w", err)
	}

	if role == transport.RoleSender && t.Remote == "" {
		return fmt.Errorf("sender 需要配置 transport.remote")
	}
	if t.Listen != "" {
		if _, err := parsePort(t.Listen); err != nil {
			return fmt.Errorf("无效的 transport.listen: %s", t.Listen)
		}
	}

	if t.Mode == "websocket" {
		if t.Path == "" {
			t.Path = "/arq"
		}
		if !strings.HasPrefix(t.Path, "/") {
			return fmt.Errorf("transport.path 必须以 / 开头")
		}
	}

	if t.LingerMs < 0 || t.TimeoutSec < 0 {
		return fmt.Errorf("transport.linger_ms 和 timeout_sec 不能为负")
	}
	return nil
}

// validateMetricsConfig 验证指标配置
func (c *Config) validateMetricsConfig() error {
	if !c.Metrics.Enabled {
		return nil
	}

	port, err := parsePort(c.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("无效的 metrics.listen: %s", c.Metrics.Listen)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
		return fmt.Errorf("metrics.path 和 health_path 必须以 / 开头")
	}
	if c.Metrics.Path == c.Metrics.HealthPath {
		return fmt.Errorf("metrics.path 与 health_path 冲突: %s", c.Metrics.Path)
	}

	// WebSocket 接收端与指标服务都监听 TCP
	if c.Transport.Mode == "websocket" && c.Transport.Listen != "" {
		if tp, err := parsePort(c.Transport.Listen); err == nil && tp == port && port != 0 {
			return fmt.Errorf("metrics 端口 %d 与 transport 端口冲突", port)
		}
	}
	return nil
}

func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

func parseFrameKind(s string) (arq.FrameKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "data":
		return arq.FrameData, nil
	case "ack":
		return arq.FrameAck, nil
	}
	return 0, fmt.Errorf("未知帧类型: %q (支持: data, ack)", s)
}

// ParseLogLevel 日志级别: error=0, info=1, debug=2
func ParseLogLevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "error":
		return 0, nil
	case "info", "":
		return 1, nil
	case "debug":
		return 2, nil
	}
	return 0, fmt.Errorf("无效的 log_level: %s (支持: error, info, debug)", s)
}

// =============================================================================
// 转换
// =============================================================================

// Engine 转换为引擎配置
func (c *Config) Engine() (*arq.Config, error) {
	policy, err := arq.ParsePolicy(c.ARQ.Policy)
	if err != nil {
		return nil, err
	}
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	ec := &arq.Config{
		Policy:      policy,
		WindowSize:  c.ARQ.WindowSize,
		MaxSequence: c.ARQ.MaxSequence,
		RTO:         time.Duration(c.ARQ.RTOMs) * time.Millisecond,
		LogLevel:    level,
	}
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	return ec, nil
}

// LinkOptions 转换为模拟链路参数
func (l *LinkConfig) LinkOptions() (sim.LinkOptions, error) {
	opts := sim.LinkOptions{
		Delay:         time.Duration(l.DelayMs) * time.Millisecond,
		Jitter:        time.Duration(l.JitterMs) * time.Millisecond,
		LossRate:      l.LossRate,
		DuplicateRate: l.DuplicateRate,
		Seed:          l.Seed,
	}
	for _, d := range l.Drops {
		kind, err := parseFrameKind(d.Kind)
		if err != nil {
			return opts, err
		}
		opts.Drops = append(opts.Drops, sim.DropRule{
			Frame: arq.Frame{Kind: kind, Seq: d.Seq},
			Nth:   d.Nth,
		})
	}
	return opts, nil
}

// Scenario 转换为实验参数
func (c *Config) Scenario() (sim.Scenario, error) {
	var sc sim.Scenario

	engine, err := c.Engine()
	if err != nil {
		return sc, err
	}
	fwd, err := c.Sim.Forward.LinkOptions()
	if err != nil {
		return sc, fmt.Errorf("sim.forward: %w", err)
	}
	rev, err := c.Sim.Reverse.LinkOptions()
	if err != nil {
		return sc, fmt.Errorf("sim.reverse: %w", err)
	}

	sc = sim.Scenario{
		Engine:   *engine,
		Forward:  fwd,
		Reverse:  rev,
		StartAt:  time.Duration(c.Sim.StartMs) * time.Millisecond,
		Submit:   c.Sim.Submit,
		Deadline: time.Duration(c.Sim.DeadlineMs) * time.Millisecond,
	}
	return sc, nil
}

// NodeOptions 转换为节点参数
func (c *Config) NodeOptions() (transport.NodeOptions, error) {
	var opts transport.NodeOptions

	engine, err := c.Engine()
	if err != nil {
		return opts, err
	}
	role, err := transport.ParseRole(c.Transport.Role)
	if err != nil {
		return opts, err
	}

	opts = transport.NodeOptions{
		Role:   role,
		Engine: *engine,
		Linger: time.Duration(c.Transport.LingerMs) * time.Millisecond,
	}
	return opts, nil
}

// =============================================================================
// 示例配置
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# =============================================================================
# ARQ 配置文件
# =============================================================================

log_level: "info"                   # error, info, debug

# =============================================================================
# 引擎
# =============================================================================
arq:
  policy: "go-back-n"               # stop-and-wait, go-back-n, selective-repeat
  window_size: 4                    # 停等协议固定为 1
  max_sequence: 14                  # 序列号 0..max_sequence, 全部确认后结束
  rto_ms: 2000                      # 固定重传超时

# =============================================================================
# 离散事件实验 (arq-sim)
# =============================================================================
sim:
  forward:                          # 发送端 -> 接收端
    delay_ms: 500
    jitter_ms: 0
    loss_rate: 0.0
    duplicate_rate: 0.0
    seed: 1
    drops:                          # 脚本丢弃: 第 nth 次发送的该帧被丢弃 (0 表示每次)
      # - kind: "data"
      #   seq: 1
      #   nth: 1
  reverse:                          # 接收端 -> 发送端
    delay_ms: 500
    jitter_ms: 0
    loss_rate: 0.0
    duplicate_rate: 0.0
    seed: 2
  start_ms: 0
  submit: 0                         # 0 表示一次性放开全部序列号
  deadline_ms: 600000
  trace: false                      # 打印逐帧轨迹

# =============================================================================
# 真实传输 (arq-node)
# =============================================================================
transport:
  mode: "udp"                       # udp, websocket
  role: "receiver"                  # sender, receiver
  listen: ":54321"
  remote: ""                        # sender 必填; udp: host:port, websocket: ws://host:port/arq
  path: "/arq"                      # websocket 接收端路径
  linger_ms: 4000                   # 接收端完成后继续确认迟到重传的时间
  timeout_sec: 0                    # 0 表示不限

# =============================================================================
# 指标
# =============================================================================
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
