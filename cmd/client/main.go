package main

import (
	"flag"
	"log"
	"os"

	"netsparrow/internal/client/app"
	"netsparrow/internal/config"
)

func main() {
	var (
		cfg        app.Config
		configPath string
	)
	flag.StringVar(&configPath, "config", "", "YAML 配置文件路径，可选（未指定 -server 时使用 agent.history_url）")
	flag.StringVar(&cfg.IP, "ip", "", "要查询的 IP")
	flag.BoolVar(&cfg.Recent, "recent", false, "查询最新的检测记录（忽略 -ip）")
	flag.IntVar(&cfg.Limit, "limit", 0, "最多返回多少条，默认 200")
	flag.StringVar(&cfg.Server, "server", "", "Server 地址，默认 http://127.0.0.1:8080")
	flag.Parse()

	if cfg.IP == "" && !cfg.Recent {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.Server == "" {
		cfg.Server = "http://127.0.0.1:8080"
		if configPath != "" {
			fc, err := config.LoadConfig(configPath)
			if err != nil {
				log.Fatalf("加载配置失败：%v", err)
			}
			if fc.Agent.HistoryURL != "" {
				cfg.Server = fc.Agent.HistoryURL
			}
		}
	}

	if err := app.Run(cfg); err != nil {
		log.Printf("client 失败：%v", err)
		os.Exit(1)
	}
}
