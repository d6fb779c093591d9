package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

// AFPacketHandle 从网卡读取以太网帧。
type AFPacketHandle struct {
	tp *afpacket.TPacket
}

func NewAFPacketHandle(iface string, snaplen int) (*AFPacketHandle, error) {
	if iface == "" {
		return nil, fmt.Errorf("interface 不能为空")
	}

	frameSize := nextPow2(snaplen)
	if frameSize < 2048 {
		frameSize = 2048
	}
	if frameSize > 1<<16 {
		frameSize = 1 << 16
	}

	blockSize := 1 << 20
	if blockSize%frameSize != 0 {
		blockSize = frameSize * 16
	}

	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(32),
		afpacket.OptPollTimeout(250 * time.Millisecond),
	}
	if iface != "any" {
		opts = append(opts, afpacket.OptInterface(iface))
	}
	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（需要 root 或 CAP_NET_RAW）", err)
		}
		if _, ok := err.(*net.OpError); ok {
			if iface == "any" {
				return nil, fmt.Errorf("打开 AF_PACKET 失败：%w", err)
			}
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（检查网卡名是否存在：%s）", err, iface)
		}
		return nil, fmt.Errorf("打开 AF_PACKET 失败：%w", err)
	}

	return &AFPacketHandle{tp: tp}, nil
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (h *AFPacketHandle) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (h *AFPacketHandle) Close() error {
	if h.tp != nil {
		h.tp.Close()
		h.tp = nil
	}
	return nil
}

func (h *AFPacketHandle) SetBPF(ins []bpf.RawInstruction) error {
	if h.tp == nil {
		return os.ErrInvalid
	}
	return h.tp.SetBPF(ins)
}

func (h *AFPacketHandle) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if h.tp == nil {
		return nil, gopacket.CaptureInfo{}, os.ErrInvalid
	}

	// poll 超时会返回 afpacket.ErrTimeout，借此检查 ctx。
	// 返回的数据由调用方在下一次读取前消费完，所以可以零拷贝。
	for {
		data, ci, err := h.tp.ZeroCopyReadPacketData()
		if err == nil {
			return data, ci, nil
		}
		if ctx.Err() != nil {
			return nil, gopacket.CaptureInfo{}, ctx.Err()
		}
		if !errors.Is(err, afpacket.ErrTimeout) && !errors.Is(err, afpacket.ErrPoll) {
			return nil, gopacket.CaptureInfo{}, fmt.Errorf("读取 AF_PACKET 失败：%w", err)
		}
	}
}
