package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"netsparrow/internal/wire"
)

// Duration 在 YAML 里写成 "100ms"、"5s" 这样的字符串。
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("第 %d 行：非法时长 %q：%w", n.Line, s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type PipesConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	// WaitTimeout 是等待 pipe 出现或对端打开的最长时间
	WaitTimeout    Duration `yaml:"wait_timeout"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	// OutputLayout 取 scored（12 字节）或 address-only（8 字节），两端必须一致
	OutputLayout string `yaml:"output_layout"`
}

type AnalyzerConfig struct {
	BatchSize         int      `yaml:"batch_size"`
	IdleReads         int      `yaml:"idle_reads"`
	IdlePeriod        Duration `yaml:"idle_period"`
	IdleBackoff       Duration `yaml:"idle_backoff"`
	MaxEmptyReads     int      `yaml:"max_empty_reads"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
	FlagThreshold     float64  `yaml:"flag_threshold"`

	// ModelURL 为空时使用 ConstantScore，便于联调
	ModelURL      string   `yaml:"model_url"`
	ModelName     string   `yaml:"model_name"`
	ModelTimeout  Duration `yaml:"model_timeout"`
	ConstantScore float64  `yaml:"constant_score"`
}

type AgentConfig struct {
	LocalIP      string   `yaml:"local_ip"`
	CentralURL   string   `yaml:"central_url"`
	AuthScheme   string   `yaml:"auth_scheme"`
	TokenEnv     string   `yaml:"token_env"`
	HTTPTimeout  Duration `yaml:"http_timeout"`
	PullInterval Duration `yaml:"pull_interval"`

	DefaultThreshold float64  `yaml:"default_threshold"`
	Exempt           []string `yaml:"exempt"`
	DedupeTTL        Duration `yaml:"dedupe_ttl"`
	DedupeSize       int      `yaml:"dedupe_size"`

	BlacklistFile string `yaml:"blacklist_file"`
	SettingsFile  string `yaml:"settings_file"`

	MaxEmptyReads     int      `yaml:"max_empty_reads"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
	IdleBackoff       Duration `yaml:"idle_backoff"`

	HistoryURL  string `yaml:"history_url"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

type FeederConfig struct {
	Interface string   `yaml:"interface"`
	PcapFile  string   `yaml:"pcap_file"`
	CSVFile   string   `yaml:"csv_file"`
	SnapLen   int      `yaml:"snap_len"`
	Protocols []uint8  `yaml:"protocols"`
	Delay     Duration `yaml:"delay"`
	Loop      bool     `yaml:"loop"`
}

type EnforcerConfig struct {
	// Backend 取 xdp 或 iptables
	Backend    string   `yaml:"backend"`
	Interface  string   `yaml:"interface"`
	MaxEntries int      `yaml:"max_entries"`
	Chain      string   `yaml:"chain"`
	Hooks      []string `yaml:"hooks"`
}

type Config struct {
	Pipes    PipesConfig    `yaml:"pipes"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Agent    AgentConfig    `yaml:"agent"`
	Feeder   FeederConfig   `yaml:"feeder"`
	Enforcer EnforcerConfig `yaml:"enforcer"`
	// LogFile 非空时日志追加写入该文件，否则写 stderr
	LogFile string `yaml:"log_file"`
}

// DefaultExempt 是私有、回环、链路本地和 0.0.0.0/8 地址段，这些地址永远不会上报。
var DefaultExempt = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
}

// MergeExempt 返回 DefaultExempt 加上 extra 中额外的网段。默认网段不能被配置去掉，
// 重复项（按规范化后的网段比较）只保留一个，非法项原样保留交给 Validate 报错。
func MergeExempt(extra []string) []string {
	out := append([]string(nil), DefaultExempt...)
	seen := make(map[string]bool, len(out)+len(extra))
	for _, p := range out {
		seen[p] = true
	}
	for _, p := range extra {
		key := strings.TrimSpace(p)
		if pfx, err := netip.ParsePrefix(key); err == nil {
			key = pfx.Masked().String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func Default() *Config {
	return &Config{
		Pipes: PipesConfig{
			Input:          "/tmp/packet_pipe",
			Output:         "/tmp/analysis_pipe",
			WaitTimeout:    Duration(30 * time.Second),
			ReconnectDelay: Duration(100 * time.Millisecond),
			OutputLayout:   wire.LayoutScored.String(),
		},
		Analyzer: AnalyzerConfig{
			BatchSize:         100,
			IdleReads:         50,
			IdlePeriod:        Duration(500 * time.Millisecond),
			IdleBackoff:       Duration(10 * time.Millisecond),
			MaxEmptyReads:     500,
			ConnectionTimeout: Duration(5 * time.Second),
			FlagThreshold:     0.9,
			ModelName:         "packets",
			ModelTimeout:      Duration(5 * time.Second),
			ConstantScore:     0,
		},
		Agent: AgentConfig{
			AuthScheme:        "Token",
			TokenEnv:          "CENTRAL_TOKEN",
			HTTPTimeout:       Duration(5 * time.Second),
			PullInterval:      Duration(30 * time.Second),
			DefaultThreshold:  0.9,
			Exempt:            append([]string(nil), DefaultExempt...),
			DedupeTTL:         Duration(10 * time.Minute),
			DedupeSize:        4096,
			BlacklistFile:     "blacklist.txt",
			SettingsFile:      "settings.txt",
			MaxEmptyReads:     500,
			ConnectionTimeout: Duration(5 * time.Second),
			IdleBackoff:       Duration(10 * time.Millisecond),
			NATSSubject:       "netsparrow.detections",
		},
		Feeder: FeederConfig{
			SnapLen: 65535,
		},
		Enforcer: EnforcerConfig{
			Backend:    "xdp",
			MaxEntries: 65536,
			Chain:      "NETSPARROW",
			Hooks:      []string{"INPUT", "FORWARD"},
		},
	}
}

// LoadConfig 读取 YAML 配置，文件中没写的字段保留 Default() 的值。
// path 为空时直接返回默认配置。
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败：%w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置 YAML 失败：%w", err)
	}
	cfg.Agent.Exempt = MergeExempt(cfg.Agent.Exempt)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Pipes.Input == "" || c.Pipes.Output == "" {
		errs = append(errs, errors.New("pipes.input / pipes.output 不能为空"))
	}
	if c.Pipes.Input == c.Pipes.Output {
		errs = append(errs, errors.New("输入和输出 pipe 不能是同一个路径"))
	}
	if _, err := wire.ParseLayout(c.Pipes.OutputLayout); err != nil {
		errs = append(errs, err)
	}
	if c.Analyzer.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("analyzer.batch_size 必须大于 0：%d", c.Analyzer.BatchSize))
	}
	if !unit(c.Analyzer.FlagThreshold) {
		errs = append(errs, fmt.Errorf("analyzer.flag_threshold 必须在 [0,1]：%v", c.Analyzer.FlagThreshold))
	}
	if !unit(c.Agent.DefaultThreshold) {
		errs = append(errs, fmt.Errorf("agent.default_threshold 必须在 [0,1]：%v", c.Agent.DefaultThreshold))
	}
	if c.Agent.LocalIP != "" {
		if a, err := netip.ParseAddr(c.Agent.LocalIP); err != nil || !a.Is4() {
			errs = append(errs, fmt.Errorf("agent.local_ip 不是 IPv4 地址：%q", c.Agent.LocalIP))
		}
	}
	for _, p := range c.Agent.Exempt {
		if _, err := netip.ParsePrefix(p); err != nil {
			errs = append(errs, fmt.Errorf("agent.exempt 非法网段 %q：%w", p, err))
		}
	}
	if c.Agent.PullInterval.D() <= 0 {
		errs = append(errs, errors.New("agent.pull_interval 必须大于 0"))
	}
	if c.Agent.BlacklistFile == "" || c.Agent.SettingsFile == "" {
		errs = append(errs, errors.New("agent.blacklist_file / agent.settings_file 不能为空"))
	}
	return errors.Join(errs...)
}

// Layout 返回解析后的输出布局，Validate 通过后不会出错。
func (c *Config) Layout() wire.Layout {
	l, _ := wire.ParseLayout(c.Pipes.OutputLayout)
	return l
}

// Token 返回中心服务的访问令牌：先加载当前目录的 .env（不存在就忽略），再读环境变量。
func (c *Config) Token() string {
	_ = godotenv.Load()
	name := c.Agent.TokenEnv
	if name == "" {
		name = "CENTRAL_TOKEN"
	}
	return os.Getenv(name)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }
