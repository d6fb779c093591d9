package xdp

import (
	"errors"
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
)

// XDP 返回值
const (
	xdpDrop = 1
	xdpPass = 2
)

// Blocker 在网卡上挂一个 XDP 程序，源或目的地址在 map 里的 IPv4 包直接丢弃。
// map 的键与 table.Key 相同。
type Blocker struct {
	m    *ebpf.Map
	prog *ebpf.Program
	l    link.Link
}

func NewBlocker(iface string, maxEntries int) (*Blocker, error) {
	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("查找网卡 %s 失败：%w", iface, err)
	}
	if maxEntries <= 0 {
		maxEntries = 65536
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("设置 memlock 失败：%w", err)
	}
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "blacklist",
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  1,
		MaxEntries: uint32(maxEntries),
	})
	if err != nil {
		return nil, fmt.Errorf("创建 map 失败：%w", err)
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "drop_listed",
		Type:         ebpf.XDP,
		Instructions: buildProgram(m.FD()),
		License:      "GPL",
	})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("加载 XDP 程序失败：%w", err)
	}
	l, err := link.AttachXDP(link.XDPOptions{Program: prog, Interface: ifc.Index})
	if err != nil {
		prog.Close()
		m.Close()
		return nil, fmt.Errorf("挂载 XDP 到 %s 失败：%w", iface, err)
	}
	return &Blocker{m: m, prog: prog, l: l}, nil
}

func (b *Blocker) Keys() ([][4]byte, error) {
	var (
		k   [4]byte
		v   uint8
		out [][4]byte
	)
	it := b.m.Iterate()
	for it.Next(&k, &v) {
		out = append(out, k)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("遍历 map 失败：%w", err)
	}
	return out, nil
}

func (b *Blocker) Put(k [4]byte) error {
	return b.m.Put(k, uint8(1))
}

func (b *Blocker) Delete(k [4]byte) error {
	err := b.m.Delete(k)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return nil
	}
	return err
}

func (b *Blocker) Close() error {
	var firstErr error
	if b.l != nil {
		if err := b.l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.prog != nil {
		if err := b.prog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.m != nil {
		if err := b.m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildProgram(mapFD int) asm.Instructions {
	const (
		ethHeader    = 14
		minLen       = ethHeader + 20
		ethTypeOff   = 12
		ipv4EthType  = 0x0008 // 0x0800 按小端半字读出
		srcOff       = ethHeader + 12
		dstOff       = ethHeader + 16
		srcKeyOffset = -4
		dstKeyOffset = -8
	)
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R2, asm.R6, 0, asm.Word),
		asm.LoadMem(asm.R3, asm.R6, 4, asm.Word),
		asm.Mov.Reg(asm.R4, asm.R2),
		asm.Add.Imm(asm.R4, minLen),
		asm.JGT.Reg(asm.R4, asm.R3, "pass"),
		asm.LoadMem(asm.R5, asm.R2, ethTypeOff, asm.Half),
		asm.JNE.Imm(asm.R5, ipv4EthType, "pass"),
		asm.LoadMem(asm.R5, asm.R2, srcOff, asm.Word),
		asm.StoreMem(asm.RFP, srcKeyOffset, asm.R5, asm.Word),
		asm.LoadMem(asm.R5, asm.R2, dstOff, asm.Word),
		asm.StoreMem(asm.RFP, dstKeyOffset, asm.R5, asm.Word),

		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, srcKeyOffset),
		asm.FnMapLookupElem.Call(),
		asm.JNE.Imm(asm.R0, 0, "drop"),

		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, dstKeyOffset),
		asm.FnMapLookupElem.Call(),
		asm.JNE.Imm(asm.R0, 0, "drop"),

		asm.Mov.Imm(asm.R0, xdpPass).WithSymbol("pass"),
		asm.Return(),
		asm.Mov.Imm(asm.R0, xdpDrop).WithSymbol("drop"),
		asm.Return(),
	}
}
