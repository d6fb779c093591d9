package app

import (
	"fmt"
	"net/netip"
	"time"

	"netsparrow/internal/config"
	"netsparrow/internal/wire"
)

type Config struct {
	ResultPipe     string
	Layout         wire.Layout
	WaitTimeout    time.Duration
	ReconnectDelay time.Duration

	LocalIP      netip.Addr
	CentralURL   string
	AuthScheme   string
	Token        string
	HTTPTimeout  time.Duration
	PullInterval time.Duration

	DefaultThreshold float64
	Exempt           []string
	DedupeTTL        time.Duration
	DedupeSize       int

	BlacklistFile string
	SettingsFile  string

	MaxEmptyReads     int
	ConnectionTimeout time.Duration
	IdleBackoff       time.Duration

	HistoryURL  string
	NATSURL     string
	NATSSubject string
}

// FromFile 把配置文件里 agent 相关的部分转换成运行参数。
func FromFile(c *config.Config, token string) (Config, error) {
	a := c.Agent
	cfg := Config{
		ResultPipe:        c.Pipes.Output,
		Layout:            c.Layout(),
		WaitTimeout:       c.Pipes.WaitTimeout.D(),
		ReconnectDelay:    c.Pipes.ReconnectDelay.D(),
		CentralURL:        a.CentralURL,
		AuthScheme:        a.AuthScheme,
		Token:             token,
		HTTPTimeout:       a.HTTPTimeout.D(),
		PullInterval:      a.PullInterval.D(),
		DefaultThreshold:  a.DefaultThreshold,
		Exempt:            a.Exempt,
		DedupeTTL:         a.DedupeTTL.D(),
		DedupeSize:        a.DedupeSize,
		BlacklistFile:     a.BlacklistFile,
		SettingsFile:      a.SettingsFile,
		MaxEmptyReads:     a.MaxEmptyReads,
		ConnectionTimeout: a.ConnectionTimeout.D(),
		IdleBackoff:       a.IdleBackoff.D(),
		HistoryURL:        a.HistoryURL,
		NATSURL:           a.NATSURL,
		NATSSubject:       a.NATSSubject,
	}
	if a.LocalIP != "" {
		ip, err := netip.ParseAddr(a.LocalIP)
		if err != nil {
			return cfg, fmt.Errorf("agent.local_ip 非法：%w", err)
		}
		cfg.LocalIP = ip
	}
	if cfg.CentralURL == "" {
		return cfg, fmt.Errorf("agent.central_url 不能为空")
	}
	return cfg, nil
}
