package source

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Packets 是原始帧来源：网卡或者 pcap 文件。文件读完返回 io.EOF。
type Packets interface {
	ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close() error
}
