// =============================================================================
// 文件: cmd/arq-sim/main.go
// 描述: ARQ 离散事件实验 - 在模拟链路上运行停等/回退N/选择重传并输出轨迹
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
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/arq/internal/arq"
	"github.com/mrcgq/arq/internal/config"
	"github.com/mrcgq/arq/internal/metrics"
	"github.com/mrcgq/arq/internal/sim"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置")
	policy := flag.String("policy", "", "策略: stop-and-wait, go-back-n, selective-repeat, all")
	window := flag.Int("window", 0, "窗口大小")
	maxSeq := flag.Int("max-seq", -1, "最大序列号")
	rtoMs := flag.Int("rto", 0, "重传超时 (毫秒)")
	loss := flag.Float64("loss", -1, "双向丢包率 [0,1]")
	showTrace := flag.Bool("trace", false, "输出事件轨迹")
	runs := flag.Int("runs", 1, "每个策略运行次数 (种子递增)")
	showMetrics := flag.Bool("metrics", false, "结束后输出 Prometheus 文本指标")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arq-sim %s (built %s)\n", Version, BuildTime)
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

	// 命令行覆盖
	if *window > 0 {
		cfg.ARQ.WindowSize = *window
	}
	if *maxSeq >= 0 {
		cfg.ARQ.MaxSequence = uint32(*maxSeq)
	}
	if *rtoMs > 0 {
		cfg.ARQ.RTOMs = *rtoMs
	}
	if *loss >= 0 {
		cfg.Sim.Forward.LossRate = *loss
		cfg.Sim.Reverse.LossRate = *loss
	}
	if *showTrace {
		cfg.Sim.Trace = true
	}

	policies := []string{cfg.ARQ.Policy}
	switch strings.ToLower(*policy) {
	case "":
	case "all":
		policies = []string{arq.StopAndWait.String(), arq.GoBackN.String(), arq.SelectiveRepeat.String()}
	default:
		policies = []string{*policy}
	}
	if *runs < 1 {
		*runs = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	runMetrics := metrics.NewRunMetrics(registry)

	var rows []summaryRow
	failed := false
	for _, p := range policies {
		cfg.ARQ.Policy = p
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		base, err := cfg.Scenario()
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}

		for i := 0; i < *runs; i++ {
			sc := base
			sc.Forward.Seed += int64(i)
			sc.Reverse.Seed += int64(i)

			res, err := sim.Run(ctx, sc)
			runMetrics.Observe(res, err)
			if res == nil {
				fmt.Fprintf(os.Stderr, "实验失败: %v\n", err)
				os.Exit(1)
			}
			if errors.Is(err, context.Canceled) {
				fmt.Println("\n实验被中断")
				os.Exit(130)
			}
			if err != nil {
				failed = true
			}

			if cfg.Sim.Trace {
				fmt.Printf("=== %s (seed %d/%d) ===\n", res.Policy, sc.Forward.Seed, sc.Reverse.Seed)
				fmt.Print(res.Trace.String())
			}
			rows = append(rows, summaryRow{seed: sc.Forward.Seed, res: res, err: err})
		}
	}

	printSummary(rows)

	if *showMetrics {
		fmt.Println()
		if err := metrics.WriteText(os.Stdout, registry); err != nil {
			fmt.Fprintf(os.Stderr, "输出指标失败: %v\n", err)
		}
	}

	if failed {
		os.Exit(1)
	}
}

type summaryRow struct {
	seed int64
	res  *sim.Result
	err  error
}

func printSummary(rows []summaryRow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "policy\tseed\tresult\tfinished\tsent\tretrans\tdelivered\tdup\tfwd drop\trev drop")
	for _, r := range rows {
		status := "ok"
		if r.err != nil {
			status = r.err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%.3fs\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.res.Policy, r.seed, status, r.res.FinishedAt.Seconds(),
			r.res.Sender.PacketsSent, r.res.Sender.Retransmits,
			r.res.Receiver.Delivered, r.res.Receiver.Duplicates,
			r.res.Forward.Dropped, r.res.Reverse.Dropped)
	}
	w.Flush()
}
