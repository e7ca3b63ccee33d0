// =============================================================================
// 文件: internal/arq/frame.go
// 描述: ARQ 引擎 - 帧编解码
//       线格式固定 5 字节: Kind(1) + Seq(4, 大端)
// =============================================================================
package arq

import (
	"encoding/binary"
	"fmt"
)

// FrameSize 帧长度
const FrameSize = 5

// FrameKind 帧类型
type FrameKind uint8

const (
	FrameData FrameKind = 0
	FrameAck  FrameKind = 1
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "DATA"
	case FrameAck:
		return "ACK"
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Frame 线上帧, 发送后不可变
type Frame struct {
	Kind FrameKind
	Seq  uint32
}

// NewDataFrame 创建数据帧
func NewDataFrame(seq uint32) Frame {
	return Frame{Kind: FrameData, Seq: seq}
}

// NewAckFrame 创建确认帧
func NewAckFrame(seq uint32) Frame {
	return Frame{Kind: FrameAck, Seq: seq}
}

// Encode 编码帧
func (f Frame) Encode() []byte {
	return f.AppendTo(make([]byte, 0, FrameSize))
}

// AppendTo 追加编码到 dst
func (f Frame) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(f.Kind))
	return binary.BigEndian.AppendUint32(dst, f.Seq)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s(%d)", f.Kind, f.Seq)
}

// DecodeFrame 解码帧
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) != FrameSize {
		return Frame{}, fmt.Errorf("%w: 长度 %d != %d", ErrMalformedFrame, len(data), FrameSize)
	}
	kind := FrameKind(data[0])
	if kind != FrameData && kind != FrameAck {
		return Frame{}, fmt.Errorf("%w: 未知类型 %d", ErrMalformedFrame, data[0])
	}
	return Frame{
		Kind: kind,
		Seq:  binary.BigEndian.Uint32(data[1:FrameSize]),
	}, nil
}
