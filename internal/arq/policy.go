// =============================================================================
// 文件: internal/arq/policy.go
// 描述: ARQ 引擎 - 策略变体与引擎配置 (停等 / 回退 N / 选择重传)
// =============================================================================
package arq

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"
)

// Policy 重传策略
type Policy uint8

const (
	StopAndWait Policy = iota
	GoBackN
	SelectiveRepeat
)

func (p Policy) String() string {
	switch p {
	case StopAndWait:
		return "stop-and-wait"
	case GoBackN:
		return "go-back-n"
	case SelectiveRepeat:
		return "selective-repeat"
	}
	return "unknown"
}

// ParsePolicy 解析策略名称
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop-and-wait", "stopandwait", "saw", "sw":
		return StopAndWait, nil
	case "go-back-n", "gobackn", "gbn":
		return GoBackN, nil
	case "selective-repeat", "selectiverepeat", "sr":
		return SelectiveRepeat, nil
	}
	return 0, fmt.Errorf("%w: 未知策略 %q", ErrInvalidConfig, s)
}

// CumulativeAck ACK 是否为累积确认
func (p Policy) CumulativeAck() bool {
	return p == StopAndWait || p == GoBackN
}

// RetransmitsWindow 超时是否重传整个窗口
func (p Policy) RetransmitsWindow() bool {
	return p == GoBackN
}

// BuffersOutOfOrder 接收端是否缓存乱序帧
func (p Policy) BuffersOutOfOrder() bool {
	return p == SelectiveRepeat
}

// EffectiveWindow 策略下实际使用的窗口大小
func (p Policy) EffectiveWindow(requested int) int {
	if p == StopAndWait {
		return 1
	}
	return requested
}

// 默认参数
const (
	DefaultWindowSize  = 4
	DefaultMaxSequence = 14
	DefaultRTO         = 2 * time.Second
)

// Config 引擎配置 (发送端与接收端共用)
type Config struct {
	Policy      Policy
	WindowSize  int
	MaxSequence uint32
	RTO         time.Duration

	// 0=ERROR 1=INFO 2=DEBUG
	LogLevel  int
	LogOutput io.Writer
}

// DefaultConfig 默认配置: 窗口 4, 序列号 0..14, RTO 2s
func DefaultConfig() *Config {
	return &Config{
		Policy:      GoBackN,
		WindowSize:  DefaultWindowSize,
		MaxSequence: DefaultMaxSequence,
		RTO:         DefaultRTO,
		LogLevel:    1,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Policy > SelectiveRepeat {
		return fmt.Errorf("%w: 未知策略 %d", ErrInvalidConfig, c.Policy)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window_size 必须 > 0", ErrInvalidConfig)
	}
	if c.RTO <= 0 {
		return fmt.Errorf("%w: rto 必须 > 0", ErrInvalidConfig)
	}
	if c.MaxSequence >= math.MaxUint32 {
		return fmt.Errorf("%w: max_sequence 必须 < %d", ErrInvalidConfig, uint32(math.MaxUint32))
	}
	return nil
}

// normalized 返回策略修正后的副本
func (c *Config) normalized() Config {
	n := *c
	n.WindowSize = n.Policy.EffectiveWindow(n.WindowSize)
	if n.LogOutput == nil {
		n.LogOutput = os.Stdout
	}
	return n
}

// limit 序列号上界 (不包含)
func (c *Config) limit() uint32 {
	return c.MaxSequence + 1
}
