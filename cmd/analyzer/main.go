package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"netsparrow/internal/analyzer/app"
	"netsparrow/internal/analyzer/batch"
	"netsparrow/internal/analyzer/classify"
	"netsparrow/internal/config"
)

func main() {
	var (
		configPath string
		input      string
		output     string
		layout     string
		modelURL   string
		batchSize  int
	)
	flag.StringVar(&configPath, "config", "", "YAML 配置文件路径，可选")
	flag.StringVar(&input, "input", "", "输入 pipe 路径（覆盖配置文件）")
	flag.StringVar(&output, "output", "", "输出 pipe 路径（覆盖配置文件）")
	flag.StringVar(&layout, "layout", "", "输出布局：scored / address-only（覆盖配置文件）")
	flag.StringVar(&modelURL, "model-url", "", "TensorFlow Serving 地址，如 http://127.0.0.1:8501")
	flag.IntVar(&batchSize, "batch-size", 0, "每批记录数（覆盖配置文件）")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败：%v", err)
	}
	if input != "" {
		cfg.Pipes.Input = input
	}
	if output != "" {
		cfg.Pipes.Output = output
	}
	if layout != "" {
		cfg.Pipes.OutputLayout = layout
	}
	if modelURL != "" {
		cfg.Analyzer.ModelURL = modelURL
	}
	if batchSize > 0 {
		cfg.Analyzer.BatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置非法：%v", err)
	}

	closer, err := config.SetupLog("analyzer", cfg.LogFile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	var c classify.Classifier
	if cfg.Analyzer.ModelURL != "" {
		c = classify.NewTFServing(cfg.Analyzer.ModelURL, cfg.Analyzer.ModelName, cfg.Analyzer.ModelTimeout.D())
	} else {
		log.Printf("未配置 model_url，所有记录使用固定分数 %.2f", cfg.Analyzer.ConstantScore)
		c = classify.Constant(float32(cfg.Analyzer.ConstantScore))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := cfg.Analyzer
	_, err = app.Run(ctx, app.Config{
		InputPipe:     cfg.Pipes.Input,
		OutputPipe:    cfg.Pipes.Output,
		Layout:        cfg.Layout(),
		FlagThreshold: float32(a.FlagThreshold),
		Batch: batch.Config{
			Capacity:   a.BatchSize,
			IdleReads:  a.IdleReads,
			IdlePeriod: a.IdlePeriod.D(),
		},
		WaitTimeout:       cfg.Pipes.WaitTimeout.D(),
		ReconnectDelay:    cfg.Pipes.ReconnectDelay.D(),
		IdleBackoff:       a.IdleBackoff.D(),
		MaxEmptyReads:     a.MaxEmptyReads,
		ConnectionTimeout: a.ConnectionTimeout.D(),
		Classifier:        c,
	})
	if err != nil {
		log.Printf("analyzer 退出：%v", err)
		closer.Close()
		os.Exit(1)
	}

	fmt.Println("analyzer 正常退出")
}
