package puller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"netsparrow/internal/agent/blacklist"
	"netsparrow/internal/agent/remote"
	"netsparrow/internal/agent/settings"
	"netsparrow/pkg/model"
)

type Source interface {
	GetMyBlacklist(ctx context.Context) ([]model.BlacklistEntry, error)
	GetSettings(ctx context.Context) (remote.RemoteSettings, error)
}

type Config struct {
	Source        Source
	Store         *settings.Store
	BlacklistFile string
	SettingsFile  string
	Interval      time.Duration
	Now           func() time.Time
}

// Puller 定期从中心服务拉取黑名单和阈值，写快照文件并替换内存中的设置。
// 任一项拉取失败都保留上一次的状态。
type Puller struct {
	cfg Config
}

func New(cfg Config) (*Puller, error) {
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("source / store 不能为空")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("拉取间隔必须大于 0：%s", cfg.Interval)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Puller{cfg: cfg}, nil
}

// Run 先立即拉取一次，之后每个间隔拉取一次，直到 ctx 结束。
func (p *Puller) Run(ctx context.Context) {
	log.Printf("开始定期同步：interval=%s", p.cfg.Interval)
	if err := p.PullOnce(ctx); err != nil {
		log.Printf("同步失败（保留上次状态）：%v", err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PullOnce(ctx); err != nil {
				log.Printf("同步失败（保留上次状态）：%v", err)
			}
		}
	}
}

// PullOnce 依次同步黑名单和设置；两者互不影响，返回合并后的错误。
func (p *Puller) PullOnce(ctx context.Context) error {
	return errors.Join(p.pullBlacklist(ctx), p.pullSettings(ctx))
}

func (p *Puller) pullBlacklist(ctx context.Context) error {
	entries, err := p.cfg.Source.GetMyBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("拉取黑名单：%w", err)
	}
	addrs := blacklist.Addresses(entries)
	if p.cfg.BlacklistFile != "" {
		if err := blacklist.WriteFile(p.cfg.BlacklistFile, addrs); err != nil {
			return fmt.Errorf("写黑名单快照：%w", err)
		}
	}
	log.Printf("黑名单已更新：%d 条", len(addrs))
	return nil
}

func (p *Puller) pullSettings(ctx context.Context) error {
	rs, err := p.cfg.Source.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("拉取设置：%w", err)
	}
	next := settings.Settings{
		Threshold:    rs.Caution,
		MLPercentage: rs.MLPercentage,
		UpdatedAt:    p.cfg.Now(),
	}
	if p.cfg.SettingsFile != "" {
		if err := settings.WriteFile(p.cfg.SettingsFile, next); err != nil {
			return fmt.Errorf("写设置快照：%w", err)
		}
	}
	old := p.cfg.Store.Swap(next)
	if old.Threshold != next.Threshold {
		log.Printf("阈值更新：%v -> %v", old.Threshold, next.Threshold)
	}
	return nil
}
