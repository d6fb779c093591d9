package blacklist

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net/netip"
	"os"
	"sort"
	"strings"

	"netsparrow/internal/agent/snapshot"
	"netsparrow/pkg/model"
)

// Addresses 从拉取结果中提取 IPv4 地址，去重并排序。非法或非 IPv4 的条目跳过并记日志。
func Addresses(entries []model.BlacklistEntry) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(entries))
	out := make([]netip.Addr, 0, len(entries))
	for _, e := range entries {
		a, err := netip.ParseAddr(strings.TrimSpace(e.IP))
		if err != nil || !a.Unmap().Is4() {
			log.Printf("跳过非法黑名单条目：%q", e.IP)
			continue
		}
		a = a.Unmap()
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func Marshal(addrs []netip.Addr) []byte {
	var b bytes.Buffer
	for _, a := range addrs {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Parse 读取每行一个 IP 的快照；空行和 # 注释忽略，非法行返回错误。
func Parse(data []byte) ([]netip.Addr, error) {
	var out []netip.Addr
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		a, err := netip.ParseAddr(text)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行非法地址 %q：%w", line, text, err)
		}
		out = append(out, a.Unmap())
	}
	return out, sc.Err()
}

func WriteFile(path string, addrs []netip.Addr) error {
	return snapshot.WriteAtomic(path, Marshal(addrs))
}

func ReadFile(path string) ([]netip.Addr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取黑名单快照失败：%w", err)
	}
	return Parse(data)
}
