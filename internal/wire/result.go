package wire

import (
	"fmt"
	"math"
	"net/netip"
	"strings"
)

// Layout 是输出 frame 的布局，部署时固定，读写双方必须一致，不做自动探测。
type Layout int

const (
	// LayoutScored: src(4) + dst(4) + confidence(f32)
	LayoutScored Layout = iota
	// LayoutAddressOnly: src(4) + dst(4)，只有被判定可疑的记录才会写出
	LayoutAddressOnly
)

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "scored", "12":
		return LayoutScored, nil
	case "address-only", "8":
		return LayoutAddressOnly, nil
	}
	return 0, fmt.Errorf("未知的输出布局：%q", s)
}

func (l Layout) FrameSize() int {
	if l == LayoutAddressOnly {
		return 8
	}
	return 12
}

func (l Layout) String() string {
	if l == LayoutAddressOnly {
		return "address-only"
	}
	return "scored"
}

type Result struct {
	Src        [4]byte
	Dst        [4]byte
	Confidence float32
}

func (r Result) SrcAddr() netip.Addr { return netip.AddrFrom4(r.Src) }
func (r Result) DstAddr() netip.Addr { return netip.AddrFrom4(r.Dst) }

// ClampConfidence 把分数限制在 [0,1]，NaN 当作 0。
func ClampConfidence(v float32) float32 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func EncodeResult(l Layout, r Result) []byte {
	buf := make([]byte, l.FrameSize())
	copy(buf[0:4], r.Src[:])
	copy(buf[4:8], r.Dst[:])
	if l == LayoutScored {
		order.PutUint32(buf[8:12], math.Float32bits(r.Confidence))
	}
	return buf
}

// DecodeResult 解析输出 frame。address-only 布局没有分数字段，解出的 Confidence 为 1。
func DecodeResult(l Layout, frame []byte) (Result, error) {
	var r Result
	if len(frame) != l.FrameSize() {
		return r, fmt.Errorf("输出 frame %d 字节，期望 %d：%w", len(frame), l.FrameSize(), ErrShortFrame)
	}
	copy(r.Src[:], frame[0:4])
	copy(r.Dst[:], frame[4:8])
	if l == LayoutAddressOnly {
		r.Confidence = 1
		return r, nil
	}
	r.Confidence = math.Float32frombits(order.Uint32(frame[8:12]))
	if r.Confidence != r.Confidence || r.Confidence < 0 || r.Confidence > 1 {
		return r, fmt.Errorf("confidence=%v 超出 [0,1]：%w", r.Confidence, ErrMalformedFrame)
	}
	return r, nil
}
