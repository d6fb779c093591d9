package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"netsparrow/internal/agent/blacklist"
	"netsparrow/internal/enforcer/iptables"
	"netsparrow/internal/enforcer/table"
	"netsparrow/internal/enforcer/xdp"
)

const (
	BackendXDP      = "xdp"
	BackendIPTables = "iptables"
)

type Config struct {
	// Backend 取 xdp（默认）或 iptables
	Backend       string
	Interface     string
	Chain         string
	Hooks         []string
	BlacklistFile string
	MaxEntries    int

	// Table 非空时直接使用，不再按 Backend 创建
	Table table.Table
	// OnSync 每次同步后调用
	OnSync func(table.SyncStats)
}

type closingTable interface {
	table.Table
	Close() error
}

func openTable(cfg Config) (closingTable, error) {
	switch cfg.Backend {
	case "", BackendXDP:
		if cfg.Interface == "" {
			return nil, errors.New("xdp 后端需要指定网卡")
		}
		b, err := xdp.NewBlocker(cfg.Interface, cfg.MaxEntries)
		if err != nil {
			return nil, err
		}
		log.Printf("XDP 已挂载到 %s", cfg.Interface)
		return b, nil
	case BackendIPTables:
		c, err := iptables.Open(cfg.Chain, cfg.Hooks)
		if err != nil {
			return nil, err
		}
		log.Printf("iptables 链 %s 已就绪，跳转自 %v", cfg.Chain, cfg.Hooks)
		return c, nil
	}
	return nil, fmt.Errorf("未知的 enforcer 后端：%q", cfg.Backend)
}

// Run 先按当前快照填表，之后每当快照文件被替换就重新同步，直到 ctx 结束。
func Run(ctx context.Context, cfg Config) error {
	if cfg.BlacklistFile == "" {
		return errors.New("未配置黑名单快照文件")
	}
	tbl := cfg.Table
	if tbl == nil {
		t, err := openTable(cfg)
		if err != nil {
			return err
		}
		defer t.Close()
		tbl = t
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败：%w", err)
	}
	defer w.Close()
	// 快照是 rename 替换的，要监听所在目录
	dir := filepath.Dir(cfg.BlacklistFile)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("监听目录 %s 失败：%w", dir, err)
	}

	name := filepath.Clean(cfg.BlacklistFile)
	reload(tbl, cfg)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			reload(tbl, cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("文件监听出错：%v", err)
		}
	}
}

// reload 读不到快照时保留表里现有的地址。
func reload(tbl table.Table, cfg Config) {
	addrs, err := blacklist.ReadFile(cfg.BlacklistFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("黑名单快照 %s 还不存在", cfg.BlacklistFile)
		return
	case err != nil:
		log.Printf("读取黑名单快照失败，保留现有规则：%v", err)
		return
	}
	st, err := table.Sync(tbl, addrs, cfg.MaxEntries)
	if err != nil {
		log.Printf("同步黑名单出错：%v", err)
	}
	log.Printf("黑名单已同步：%d 条，新增 %d 删除 %d", len(addrs), st.Added, st.Removed)
	if cfg.OnSync != nil {
		cfg.OnSync(st)
	}
}
