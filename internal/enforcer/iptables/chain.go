package iptables

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

const filterTable = "filter"

// Rules 是 Chain 用到的 iptables 操作，*iptables.IPTables 满足它。
type Rules interface {
	List(table, chain string) ([]string, error)
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

// Chain 把黑名单地址写成独立链里的 DROP 规则，每个地址一条 -s 一条 -d。
// 没有 XDP 的环境用它代替 xdp.Blocker。
type Chain struct {
	rules Rules
	name  string

	ipt   *iptables.IPTables
	hooks []string
}

func NewChain(r Rules, name string) *Chain {
	return &Chain{rules: r, name: name}
}

// Open 创建（或清空）名为 name 的链，并在 hooks（如 INPUT、FORWARD）开头跳转过去。
func Open(name string, hooks []string) (*Chain, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("打开 iptables 失败：%w", err)
	}
	if err := ipt.ClearChain(filterTable, name); err != nil {
		return nil, fmt.Errorf("创建链 %s 失败：%w", name, err)
	}
	for _, h := range hooks {
		ok, err := ipt.Exists(filterTable, h, "-j", name)
		if err != nil {
			return nil, fmt.Errorf("检查 %s 跳转失败：%w", h, err)
		}
		if ok {
			continue
		}
		if err := ipt.Insert(filterTable, h, 1, "-j", name); err != nil {
			return nil, fmt.Errorf("添加 %s 跳转失败：%w", h, err)
		}
	}
	return &Chain{rules: ipt, name: name, ipt: ipt, hooks: hooks}, nil
}

func rulespec(flag string, k [4]byte) []string {
	return []string{flag, netip.AddrFrom4(k).String() + "/32", "-j", "DROP"}
}

func (c *Chain) Keys() ([][4]byte, error) {
	lines, err := c.rules.List(filterTable, c.name)
	if err != nil {
		return nil, fmt.Errorf("列出链 %s 失败：%w", c.name, err)
	}
	seen := map[[4]byte]bool{}
	var out [][4]byte
	for _, l := range lines {
		k, ok := parseRule(l)
		if ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// parseRule 取出 "-A NAME -s 1.2.3.4/32 -j DROP" 这类规则里的地址。
func parseRule(line string) ([4]byte, bool) {
	f := strings.Fields(line)
	for i := 0; i+1 < len(f); i++ {
		if f[i] != "-s" && f[i] != "-d" {
			continue
		}
		p, err := netip.ParsePrefix(f[i+1])
		if err != nil || p.Bits() != 32 || !p.Addr().Is4() {
			return [4]byte{}, false
		}
		return p.Addr().As4(), true
	}
	return [4]byte{}, false
}

func (c *Chain) Put(k [4]byte) error {
	for _, flag := range []string{"-s", "-d"} {
		if err := c.rules.AppendUnique(filterTable, c.name, rulespec(flag, k)...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) Delete(k [4]byte) error {
	for _, flag := range []string{"-s", "-d"} {
		if err := c.rules.DeleteIfExists(filterTable, c.name, rulespec(flag, k)...); err != nil {
			return err
		}
	}
	return nil
}

// Close 移除跳转并删除链。NewChain 创建的 Chain 不做任何事。
func (c *Chain) Close() error {
	if c.ipt == nil {
		return nil
	}
	for _, h := range c.hooks {
		if err := c.ipt.DeleteIfExists(filterTable, h, "-j", c.name); err != nil {
			return fmt.Errorf("移除 %s 跳转失败：%w", h, err)
		}
	}
	return c.ipt.ClearAndDeleteChain(filterTable, c.name)
}
