// =============================================================================
// 文件: internal/arq/errors.go
// 描述: ARQ 引擎 - 错误分类 (均不致命, 只计数和记录日志)
// =============================================================================
package arq

import "errors"

var (
	// ErrMalformedFrame 帧解码失败, 直接丢弃
	ErrMalformedFrame = errors.New("arq: 帧格式错误")

	// ErrStaleAck 低于窗口基序号或已确认过的 ACK
	ErrStaleAck = errors.New("arq: 过期 ACK")

	// ErrUnknownAck 确认了从未发送过的序列号
	ErrUnknownAck = errors.New("arq: 未发送序列号的 ACK")

	// ErrOutOfWindowData 接收窗口之外的数据帧, 不回 ACK
	ErrOutOfWindowData = errors.New("arq: 数据帧超出接收窗口")

	// ErrTimerMisuse 取消或触发一个不存在的定时器
	ErrTimerMisuse = errors.New("arq: 定时器不存在")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("arq: 配置无效")
)
