package table

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
)

// Table 是被同步的地址表，xdp 和 iptables 两种后端都实现它。
type Table interface {
	Keys() ([][4]byte, error)
	Put(k [4]byte) error
	Delete(k [4]byte) error
}

// Key 是表的键：地址的 4 个字节按网络序原样存放，与包里的字节一致。
func Key(a netip.Addr) ([4]byte, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return [4]byte{}, false
	}
	return a.As4(), true
}

type SyncStats struct {
	Added   int
	Removed int
	Kept    int
}

// Sync 让表里的地址和 addrs 一致：多的删掉，缺的补上。
// 超过 limit 的部分忽略（limit<=0 不限制）。
func Sync(t Table, addrs []netip.Addr, limit int) (SyncStats, error) {
	var st SyncStats
	want := make(map[[4]byte]struct{}, len(addrs))
	for _, a := range addrs {
		k, ok := Key(a)
		if !ok {
			continue
		}
		if limit > 0 && len(want) >= limit {
			log.Printf("黑名单 %d 条超过上限 %d，其余忽略", len(addrs), limit)
			break
		}
		want[k] = struct{}{}
	}

	have, err := t.Keys()
	if err != nil {
		return st, err
	}
	var errs []error
	for _, k := range have {
		if _, ok := want[k]; ok {
			delete(want, k)
			st.Kept++
			continue
		}
		if err := t.Delete(k); err != nil {
			errs = append(errs, fmt.Errorf("删除 %s 失败：%w", netip.AddrFrom4(k), err))
			continue
		}
		st.Removed++
	}
	for k := range want {
		if err := t.Put(k); err != nil {
			errs = append(errs, fmt.Errorf("写入 %s 失败：%w", netip.AddrFrom4(k), err))
			continue
		}
		st.Added++
	}
	return st, errors.Join(errs...)
}
