package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// IPv4Program 生成 classic BPF 程序，链路层假设为 Ethernet：
// 只放行 IPv4；protos 非空时再按 IPv4 协议号过滤（6=TCP，17=UDP，1=ICMP）。
func IPv4Program(protos ...uint8) []bpf.Instruction {
	const (
		accept = 0xFFFF // snaplen 由 AF_PACKET 控制
		drop   = 0
	)
	if len(protos) == 0 {
		return []bpf.Instruction{
			bpf.LoadAbsolute{Off: 12, Size: 2},                         // EtherType
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 1}, // IPv4? 否则 drop
			bpf.RetConstant{Val: accept},
			bpf.RetConstant{Val: drop},
		}
	}

	n := uint8(len(protos))
	ins := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: n + 1},
		bpf.LoadAbsolute{Off: 23, Size: 1}, // IPv4 protocol
	}
	for i, p := range protos {
		// 命中就跳过剩下的比较和 drop，落到 accept
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: n - uint8(i)})
	}
	return append(ins, bpf.RetConstant{Val: drop}, bpf.RetConstant{Val: accept})
}

func IPv4BPF(protos ...uint8) ([]bpf.RawInstruction, error) {
	if len(protos) > 200 {
		return nil, fmt.Errorf("协议过多：%d", len(protos))
	}
	raw, err := bpf.Assemble(IPv4Program(protos...))
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}
