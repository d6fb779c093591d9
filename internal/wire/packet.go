package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// 两端进程必须使用同一字节序；历史上的生产者都跑在小端机器上，这里固定为小端。
var order = binary.LittleEndian

const (
	PayloadSize = 1500

	// timestamp(4) + src(4) + dst(4) + size(2) + protocol(1) + payload(1500)
	PacketFrameSize = 4 + 4 + 4 + 2 + 1 + PayloadSize
)

var (
	ErrShortFrame     = errors.New("frame 长度不符")
	ErrMalformedFrame = errors.New("frame 字段非法")
)

type PacketRecord struct {
	Timestamp    uint32
	Src          [4]byte
	Dst          [4]byte
	DeclaredSize uint16
	Protocol     uint8
	Payload      [PayloadSize]byte
}

func (r *PacketRecord) SrcAddr() netip.Addr { return netip.AddrFrom4(r.Src) }
func (r *PacketRecord) DstAddr() netip.Addr { return netip.AddrFrom4(r.Dst) }

// DecodePacket 解析一个完整的输入 frame。声明长度超过 payload 容量视为 ErrMalformedFrame，
// 调用方应记录日志并丢弃该记录。
func DecodePacket(frame []byte) (PacketRecord, error) {
	var r PacketRecord
	if len(frame) != PacketFrameSize {
		return r, fmt.Errorf("输入 frame %d 字节，期望 %d：%w", len(frame), PacketFrameSize, ErrShortFrame)
	}
	r.Timestamp = order.Uint32(frame[0:4])
	copy(r.Src[:], frame[4:8])
	copy(r.Dst[:], frame[8:12])
	r.DeclaredSize = order.Uint16(frame[12:14])
	r.Protocol = frame[14]
	copy(r.Payload[:], frame[15:])

	if r.DeclaredSize > PayloadSize {
		return r, fmt.Errorf("声明长度 %d 超过 payload 容量 %d：%w", r.DeclaredSize, PayloadSize, ErrMalformedFrame)
	}
	return r, nil
}

func EncodePacket(r PacketRecord) []byte {
	buf := make([]byte, PacketFrameSize)
	order.PutUint32(buf[0:4], r.Timestamp)
	copy(buf[4:8], r.Src[:])
	copy(buf[8:12], r.Dst[:])
	order.PutUint16(buf[12:14], r.DeclaredSize)
	buf[14] = r.Protocol
	copy(buf[15:], r.Payload[:])
	return buf
}
