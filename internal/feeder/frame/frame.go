package frame

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netsparrow/internal/wire"
)

var ErrNotIPv4 = errors.New("不是 IPv4 报文")

// Build 把一帧原始数据转换成输入记录：地址和协议号取自 IPv4 头，
// 声明长度取线上长度（超过 payload 容量时截断），payload 为 IPv4 载荷的前 1500 字节。
func Build(data []byte, link layers.LinkType, ci gopacket.CaptureInfo) (wire.PacketRecord, error) {
	var rec wire.PacketRecord
	pkt := gopacket.NewPacket(data, link, gopacket.Lazy)
	l := pkt.Layer(layers.LayerTypeIPv4)
	if l == nil {
		if e := pkt.ErrorLayer(); e != nil {
			return rec, fmt.Errorf("%w：%v", ErrNotIPv4, e.Error())
		}
		return rec, ErrNotIPv4
	}
	ip, _ := l.(*layers.IPv4)
	src, dst := ip.SrcIP.To4(), ip.DstIP.To4()
	if src == nil || dst == nil {
		return rec, ErrNotIPv4
	}

	rec.Timestamp = uint32(ci.Timestamp.Unix())
	copy(rec.Src[:], src)
	copy(rec.Dst[:], dst)
	rec.Protocol = uint8(ip.Protocol)

	size := ci.Length
	if size <= 0 {
		size = int(ip.Length)
	}
	if size > wire.PayloadSize {
		size = wire.PayloadSize
	}
	rec.DeclaredSize = uint16(size)
	copy(rec.Payload[:], ip.Payload)
	return rec, nil
}
