package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netsparrow/internal/wire"
)

const sampleYAML = `
pipes:
  input: /run/ns/in
  output: /run/ns/out
  wait_timeout: 10s
  output_layout: address-only
analyzer:
  batch_size: 32
  idle_period: 250ms
agent:
  local_ip: 192.168.1.20
  central_url: https://central.example/
  pull_interval: 1m
  exempt:
    - 10.0.0.0/8
    - 100.64.0.0/10
log_file: /var/log/netsparrow.log
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsparrow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipes.Input != "/run/ns/in" || cfg.Pipes.WaitTimeout.D() != 10*time.Second {
		t.Errorf("pipes=%+v", cfg.Pipes)
	}
	if cfg.Layout() != wire.LayoutAddressOnly {
		t.Errorf("layout=%v", cfg.Layout())
	}
	if cfg.Analyzer.BatchSize != 32 || cfg.Analyzer.IdlePeriod.D() != 250*time.Millisecond {
		t.Errorf("analyzer=%+v", cfg.Analyzer)
	}
	// 未写出的字段保留默认值
	if cfg.Analyzer.MaxEmptyReads != 500 || cfg.Pipes.ReconnectDelay.D() != 100*time.Millisecond {
		t.Errorf("defaults lost: %+v %+v", cfg.Analyzer, cfg.Pipes)
	}
	// 配置里的网段追加在默认网段之后，10.0.0.0/8 不重复
	if len(cfg.Agent.Exempt) != len(DefaultExempt)+1 || cfg.Agent.Exempt[len(DefaultExempt)] != "100.64.0.0/10" {
		t.Errorf("exempt=%v", cfg.Agent.Exempt)
	}
	if cfg.Agent.PullInterval.D() != time.Minute || cfg.LogFile != "/var/log/netsparrow.log" {
		t.Errorf("agent=%+v log=%q", cfg.Agent, cfg.LogFile)
	}
}

func TestLoadConfig_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipes.Input != "/tmp/packet_pipe" || cfg.Pipes.Output != "/tmp/analysis_pipe" {
		t.Errorf("pipes=%+v", cfg.Pipes)
	}
	if cfg.Analyzer.BatchSize != 100 || cfg.Agent.DefaultThreshold != 0.9 {
		t.Errorf("cfg=%+v", cfg)
	}
	if len(cfg.Agent.Exempt) != 6 {
		t.Errorf("exempt=%v", cfg.Agent.Exempt)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"duration":  "pipes:\n  wait_timeout: soon\n",
		"layout":    "pipes:\n  output_layout: 16\n",
		"threshold": "agent:\n  default_threshold: 1.5\n",
		"local ip":  "agent:\n  local_ip: fe80::1\n",
		"exempt":    "agent:\n  exempt: [10.0.0.0/33]\n",
		"same pipe": "pipes:\n  input: /tmp/x\n  output: /tmp/x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeFile(t, body)); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "读取配置文件失败") {
		t.Fatalf("got %v", err)
	}
}

func TestToken_FromEnv(t *testing.T) {
	t.Setenv("NS_TEST_TOKEN", "abc123")
	cfg := Default()
	cfg.Agent.TokenEnv = "NS_TEST_TOKEN"
	if got := cfg.Token(); got != "abc123" {
		t.Fatalf("token=%q", got)
	}
}

func TestLoadConfig_ShippedSample(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "netsparrow.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Agent.DedupeTTL.D() != 10*time.Minute || len(cfg.Agent.Exempt) != len(DefaultExempt) {
		t.Fatalf("agent=%+v", cfg.Agent)
	}
	if cfg.Enforcer.MaxEntries != 65536 || cfg.Feeder.SnapLen != 65535 {
		t.Fatalf("feeder=%+v enforcer=%+v", cfg.Feeder, cfg.Enforcer)
	}
}

func TestMergeExempt_KeepsDefaults(t *testing.T) {
	got := MergeExempt([]string{"10.0.0.1/8", " 127.0.0.0/8"})
	if len(got) != len(DefaultExempt) {
		t.Fatalf("exempt=%v", got)
	}
	for i, p := range DefaultExempt {
		if got[i] != p {
			t.Errorf("exempt[%d]=%q want %q", i, got[i], p)
		}
	}

	cfg, err := LoadConfig(writeFile(t, "agent:\n  exempt: [10.0.0.0/8]\n"))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range cfg.Agent.Exempt {
		if p == "127.0.0.0/8" {
			found = true
		}
	}
	if !found || len(cfg.Agent.Exempt) != len(DefaultExempt) {
		t.Fatalf("default ranges dropped: %v", cfg.Agent.Exempt)
	}
}
