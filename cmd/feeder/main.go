package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"netsparrow/internal/config"
	"netsparrow/internal/feeder/app"
)

func main() {
	var (
		configPath string
		pipePath   string
		iface      string
		pcapFile   string
		csvFile    string
		protos     string
		loop       bool
	)
	flag.StringVar(&configPath, "config", "", "YAML 配置文件路径，可选")
	flag.StringVar(&pipePath, "pipe", "", "输入 pipe 路径（覆盖配置文件）")
	flag.StringVar(&iface, "iface", "", "抓包网卡，如 eth0")
	flag.StringVar(&pcapFile, "pcap", "", "回放的 pcap / pcapng 文件")
	flag.StringVar(&csvFile, "csv", "", "回放的 CSV 数据集")
	flag.StringVar(&protos, "protocols", "", "只抓这些 IP 协议号，逗号分隔，如 6,17")
	flag.BoolVar(&loop, "loop", false, "文件读完后从头回放")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败：%v", err)
	}
	if pipePath != "" {
		cfg.Pipes.Input = pipePath
	}
	f := &cfg.Feeder
	if iface != "" || pcapFile != "" || csvFile != "" {
		f.Interface, f.PcapFile, f.CSVFile = iface, pcapFile, csvFile
	}
	if protos != "" {
		f.Protocols = nil
		for _, p := range strings.Split(protos, ",") {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				log.Fatalf("协议号非法：%q", p)
			}
			f.Protocols = append(f.Protocols, uint8(n))
		}
	}
	if loop {
		f.Loop = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置非法：%v", err)
	}

	closer, err := config.SetupLog("feeder", cfg.LogFile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := app.Run(ctx, app.Config{
		Pipe:           cfg.Pipes.Input,
		Interface:      f.Interface,
		PcapFile:       f.PcapFile,
		CSVFile:        f.CSVFile,
		SnapLen:        f.SnapLen,
		Protocols:      f.Protocols,
		Delay:          f.Delay.D(),
		Loop:           f.Loop,
		WaitTimeout:    cfg.Pipes.WaitTimeout.D(),
		ReconnectDelay: cfg.Pipes.ReconnectDelay.D(),
	})
	if err != nil {
		log.Printf("feeder 退出：%v", err)
		closer.Close()
		os.Exit(1)
	}
	log.Printf("feeder 正常退出：sent=%d dropped=%d skipped=%d", st.Sent, st.Dropped, st.Skipped)
}
