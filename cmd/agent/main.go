package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"netsparrow/internal/agent/app"
	"netsparrow/internal/config"
)

func main() {
	var (
		configPath string
		central    string
		localIP    string
		pipePath   string
		history    string
	)
	flag.StringVar(&configPath, "config", "", "YAML 配置文件路径，可选")
	flag.StringVar(&central, "central-url", "", "中心黑名单服务地址（覆盖配置文件）")
	flag.StringVar(&localIP, "local-ip", "", "本机 IPv4 地址，用于判断主体地址")
	flag.StringVar(&pipePath, "pipe", "", "结果 pipe 路径（覆盖配置文件）")
	flag.StringVar(&history, "history-url", "", "本地 server 地址，如 http://127.0.0.1:8080，为空不留档")
	flag.Parse()

	fc, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败：%v", err)
	}
	if central != "" {
		fc.Agent.CentralURL = central
	}
	if localIP != "" {
		fc.Agent.LocalIP = localIP
	}
	if pipePath != "" {
		fc.Pipes.Output = pipePath
	}
	if history != "" {
		fc.Agent.HistoryURL = history
	}
	if err := fc.Validate(); err != nil {
		log.Fatalf("配置非法：%v", err)
	}

	cfg, err := app.FromFile(fc, fc.Token())
	if err != nil {
		flag.Usage()
		log.Fatalf("%v", err)
	}

	closer, err := config.SetupLog("agent", fc.LogFile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Printf("agent 退出：%v", err)
		closer.Close()
		os.Exit(1)
	}

	fmt.Println("agent 正常退出")
}
