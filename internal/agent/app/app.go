package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"

	"netsparrow/internal/agent/consumer"
	"netsparrow/internal/agent/exempt"
	"netsparrow/internal/agent/notify"
	"netsparrow/internal/agent/puller"
	"netsparrow/internal/agent/remote"
	"netsparrow/internal/agent/report"
	"netsparrow/internal/agent/settings"
	"netsparrow/internal/pipe"
)

// Run 同时运行结果消费和定期同步两个 goroutine，ctx 结束后等两者退出。
func Run(ctx context.Context, cfg Config) error {
	ex, err := exempt.Parse(cfg.Exempt)
	if err != nil {
		return err
	}
	if err := pipe.Create(cfg.ResultPipe); err != nil {
		return fmt.Errorf("创建结果 pipe 失败：%w", err)
	}

	store := settings.NewStore(seedSettings(cfg))
	rc := remote.NewClient(cfg.CentralURL, cfg.AuthScheme, cfg.Token, cfg.HTTPTimeout)
	if cfg.Token == "" {
		log.Printf("未设置中心服务 token，请求将不带 Authorization")
	}

	ccfg := consumer.Config{
		Layout:            cfg.Layout,
		LocalIP:           cfg.LocalIP,
		Exempt:            ex,
		Settings:          store,
		Pusher:            rc,
		DedupeTTL:         cfg.DedupeTTL,
		DedupeSize:        cfg.DedupeSize,
		MaxEmptyReads:     cfg.MaxEmptyReads,
		ConnectionTimeout: cfg.ConnectionTimeout,
		IdleBackoff:       cfg.IdleBackoff,
		ReconnectDelay:    cfg.ReconnectDelay,
		Open: func(ctx context.Context) (pipe.FrameReader, error) {
			return pipe.Open(ctx, cfg.ResultPipe, pipe.Read, cfg.WaitTimeout)
		},
	}
	if cfg.HistoryURL != "" {
		ccfg.Reporter = report.NewClient(cfg.HistoryURL, cfg.HTTPTimeout)
	}
	if cfg.NATSURL != "" {
		pub, err := notify.NewPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			// NATS 只是附加通道，连不上不影响主流程
			log.Printf("检测事件发布已关闭：%v", err)
		} else {
			defer pub.Close()
			ccfg.Publisher = pub
		}
	}

	c, err := consumer.New(ccfg)
	if err != nil {
		return err
	}
	p, err := puller.New(puller.Config{
		Source:        rc,
		Store:         store,
		BlacklistFile: cfg.BlacklistFile,
		SettingsFile:  cfg.SettingsFile,
		Interval:      cfg.PullInterval,
	})
	if err != nil {
		return err
	}

	log.Printf("agent 启动：pipe=%s central=%s threshold=%v exempt=%s", cfg.ResultPipe, cfg.CentralURL, store.Threshold(), ex)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()
	wg.Wait()
	return nil
}

// seedSettings 用上次拉取写下的快照作为初始值，读不到就用默认阈值。
func seedSettings(cfg Config) settings.Settings {
	def := settings.Settings{Threshold: cfg.DefaultThreshold}
	if cfg.SettingsFile == "" {
		return def
	}
	st, err := settings.ReadFile(cfg.SettingsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("设置快照不可用，使用默认阈值 %v：%v", cfg.DefaultThreshold, err)
		}
		return def
	}
	if st.Threshold < 0 || st.Threshold > 1 {
		log.Printf("设置快照阈值 %v 超出 [0,1]，使用默认值", st.Threshold)
		return def
	}
	log.Printf("从快照恢复阈值 %v（%s）", st.Threshold, st.UpdatedAt.Format("2006-01-02 15:04:05"))
	return st
}
