package exempt

import (
	"fmt"
	"net/netip"
)

// Set 是构建后只读的网段集合，可在多个 goroutine 间共享。
type Set struct {
	prefixes []netip.Prefix
}

// Parse 解析 CIDR 列表，任一项非法即返回错误。
func Parse(cidrs []string) (*Set, error) {
	s := &Set{prefixes: make([]netip.Prefix, 0, len(cidrs))}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("非法网段 %q：%w", c, err)
		}
		s.prefixes = append(s.prefixes, p.Masked())
	}
	return s, nil
}

func (s *Set) Contains(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (s *Set) Len() int { return len(s.prefixes) }

func (s *Set) String() string { return fmt.Sprint(s.prefixes) }
