// =============================================================================
// 文件: internal/arq/policy_test.go
// 描述: 策略与配置测试
// =============================================================================
package arq

import (
	"errors"
	"math"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{
		"stop-and-wait":    StopAndWait,
		"SW":               StopAndWait,
		"gbn":              GoBackN,
		" Go-Back-N ":      GoBackN,
		"selective-repeat": SelectiveRepeat,
		"sr":               SelectiveRepeat,
	}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	if _, err := ParsePolicy("tcp"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("未知策略应返回 ErrInvalidConfig: %v", err)
	}
}

func TestPolicySwitches(t *testing.T) {
	if !StopAndWait.CumulativeAck() || !GoBackN.CumulativeAck() || SelectiveRepeat.CumulativeAck() {
		t.Error("CumulativeAck 不正确")
	}
	if !GoBackN.RetransmitsWindow() || SelectiveRepeat.RetransmitsWindow() || StopAndWait.RetransmitsWindow() {
		t.Error("RetransmitsWindow 不正确")
	}
	if !SelectiveRepeat.BuffersOutOfOrder() || GoBackN.BuffersOutOfOrder() {
		t.Error("BuffersOutOfOrder 不正确")
	}
	if StopAndWait.EffectiveWindow(16) != 1 || GoBackN.EffectiveWindow(16) != 16 {
		t.Error("EffectiveWindow 不正确")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("默认配置应有效: %v", err)
	}

	cases := map[string]func(c *Config){
		"窗口为 0":  func(c *Config) { c.WindowSize = 0 },
		"RTO 为 0": func(c *Config) { c.RTO = 0 },
		"序列号溢出":   func(c *Config) { c.MaxSequence = math.MaxUint32 },
		"未知策略":    func(c *Config) { c.Policy = Policy(9) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("应返回 ErrInvalidConfig: %v", err)
			}
		})
	}
}
