package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"netsparrow/internal/config"
	"netsparrow/internal/enforcer/app"
)

func main() {
	var (
		configPath string
		iface      string
		file       string
		backend    string
	)
	flag.StringVar(&configPath, "config", "", "YAML 配置文件路径，可选")
	flag.StringVar(&iface, "iface", "", "挂载 XDP 的网卡（覆盖配置文件）")
	flag.StringVar(&file, "blacklist", "", "黑名单快照文件（覆盖配置文件）")
	flag.StringVar(&backend, "backend", "", "xdp / iptables（覆盖配置文件）")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败：%v", err)
	}
	if iface != "" {
		cfg.Enforcer.Interface = iface
	}
	if file != "" {
		cfg.Agent.BlacklistFile = file
	}
	if backend != "" {
		cfg.Enforcer.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置非法：%v", err)
	}

	closer, err := config.SetupLog("enforcer", cfg.LogFile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := cfg.Enforcer
	err = app.Run(ctx, app.Config{
		Backend:       e.Backend,
		Interface:     e.Interface,
		Chain:         e.Chain,
		Hooks:         e.Hooks,
		BlacklistFile: cfg.Agent.BlacklistFile,
		MaxEntries:    e.MaxEntries,
	})
	if err != nil {
		log.Printf("enforcer 退出：%v", err)
		closer.Close()
		os.Exit(1)
	}
}
