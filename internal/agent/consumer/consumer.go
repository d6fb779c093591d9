package consumer

import (
	"context"
	"errors"
	"log"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"netsparrow/internal/agent/exempt"
	"netsparrow/internal/agent/remote"
	"netsparrow/internal/agent/settings"
	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
	"netsparrow/pkg/model"
)

type State int

const (
	WaitingForPipe State = iota
	Connected
	Reading
	IdleBackoff
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case WaitingForPipe:
		return "WAITING_FOR_PIPE"
	case Connected:
		return "CONNECTED"
	case Reading:
		return "READING"
	case IdleBackoff:
		return "IDLE_BACKOFF"
	case Reconnecting:
		return "RECONNECTING"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Outcome 是一条结果的处理结论。
type Outcome int

const (
	BelowThreshold Outcome = iota
	ExemptSubject
	Pushed
	AlreadyKnown
	RecentlyPushed
	PushFailed
)

func (o Outcome) String() string {
	return [...]string{"below-threshold", "exempt", "pushed", "already-known", "recently-pushed", "push-failed"}[o]
}

type Pusher interface {
	Push(ctx context.Context, ip netip.Addr) error
}

// Reporter 和 Publisher 都是可选的，收到超过阈值的结果时各调用一次。
type Reporter interface {
	Upload(ctx context.Context, d *model.Detection) error
}

type Publisher interface {
	Publish(d *model.Detection) error
}

type Config struct {
	Layout wire.Layout
	// LocalIP 是本机地址，用于判断主体地址；为零值时主体总是源地址
	LocalIP  netip.Addr
	Exempt   *exempt.Set
	Settings *settings.Store
	Pusher   Pusher

	Reporter  Reporter
	Publisher Publisher

	DedupeTTL  time.Duration
	DedupeSize int

	MaxEmptyReads     int
	ConnectionTimeout time.Duration
	IdleBackoff       time.Duration
	ReconnectDelay    time.Duration

	// QueueSize 是等待上报的结果上限，队列满时新结果直接丢弃
	QueueSize int
	// DrainTimeout 限制停止时处理队列剩余结果的时间
	DrainTimeout time.Duration

	Open    func(ctx context.Context) (pipe.FrameReader, error)
	OnState func(State)
	Now     func() time.Time
}

type Consumer struct {
	cfg     Config
	state   State
	recent  *expirable.LRU[netip.Addr, struct{}]
	jobs    chan wire.Result
	dropped atomic.Int64
}

func New(cfg Config) (*Consumer, error) {
	if cfg.Open == nil {
		return nil, errors.New("未配置结果 pipe 打开函数")
	}
	if cfg.Settings == nil || cfg.Pusher == nil || cfg.Exempt == nil {
		return nil, errors.New("settings / pusher / exempt 不能为空")
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 4096
	}
	if cfg.MaxEmptyReads <= 0 {
		cfg.MaxEmptyReads = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Consumer{
		cfg:    cfg,
		state:  -1,
		recent: expirable.NewLRU[netip.Addr, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
	}, nil
}

// SubjectAddress 选出结果中不是本机的那个地址。两个都是或都不是本机时取源地址。
func SubjectAddress(r wire.Result, local netip.Addr) netip.Addr {
	src, dst := r.SrcAddr(), r.DstAddr()
	if local.IsValid() && src == local && dst != local {
		return dst
	}
	return src
}

// Handle 处理一条解码后的结果：阈值、豁免、去重之后决定是否上报中心服务。
// 会阻塞在网络调用上，Run 只在上报 goroutine 里调用它。
func (c *Consumer) Handle(ctx context.Context, r wire.Result) Outcome {
	threshold := c.cfg.Settings.Threshold()
	// 在 float32 精度下比较，阈值 0.9 与线上传来的 0.9 判为相等
	if r.Confidence < float32(threshold) {
		return BelowThreshold
	}

	subject := SubjectAddress(r, c.cfg.LocalIP)
	d := &model.Detection{
		Timestamp:  c.cfg.Now(),
		SrcIP:      r.SrcAddr().String(),
		DstIP:      r.DstAddr().String(),
		SubjectIP:  subject.String(),
		Confidence: float64(r.Confidence),
		Threshold:  threshold,
	}

	out := c.push(ctx, subject)
	d.Exempt = out == ExemptSubject
	d.Pushed = out == Pushed || out == AlreadyKnown || out == RecentlyPushed
	c.record(ctx, d)
	return out
}

func (c *Consumer) push(ctx context.Context, subject netip.Addr) Outcome {
	if c.cfg.Exempt.Contains(subject) {
		return ExemptSubject
	}
	if c.recent.Contains(subject) {
		return RecentlyPushed
	}
	err := c.cfg.Pusher.Push(ctx, subject)
	switch {
	case err == nil:
		c.recent.Add(subject, struct{}{})
		log.Printf("已上报可疑地址：%s", subject)
		return Pushed
	case errors.Is(err, remote.ErrDuplicate):
		c.recent.Add(subject, struct{}{})
		log.Printf("中心服务已有该地址：%s", subject)
		return AlreadyKnown
	default:
		log.Printf("上报 %s 失败（丢弃）：%v", subject, err)
		return PushFailed
	}
}

func (c *Consumer) record(ctx context.Context, d *model.Detection) {
	if c.cfg.Reporter != nil {
		if err := c.cfg.Reporter.Upload(ctx, d); err != nil {
			log.Printf("检测记录留档失败（忽略）：%v", err)
		}
	}
	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.Publish(d); err != nil {
			log.Printf("检测事件发布失败（忽略）：%v", err)
		}
	}
}

func (c *Consumer) State() State { return c.state }

// Dropped 返回因上报队列已满而丢弃的结果数。
func (c *Consumer) Dropped() int64 { return c.dropped.Load() }

// enqueue 把超过阈值的结果交给上报 goroutine，读 pipe 的一方永不阻塞。
func (c *Consumer) enqueue(r wire.Result) {
	if r.Confidence < float32(c.cfg.Settings.Threshold()) {
		return
	}
	select {
	case c.jobs <- r:
	default:
		c.dropped.Add(1)
		log.Printf("上报队列已满，丢弃 %s 的结果", SubjectAddress(r, c.cfg.LocalIP))
	}
}

// work 逐条上报队列里的结果。ctx 结束后用独立的 context 处理剩余结果，最多 DrainTimeout。
func (c *Consumer) work(ctx context.Context, jobs <-chan wire.Result) {
	var drain context.Context
	for r := range jobs {
		hctx := ctx
		if ctx.Err() != nil {
			if drain == nil {
				var cancel context.CancelFunc
				drain, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
				defer cancel()
			}
			hctx = drain
		}
		c.Handle(hctx, r)
	}
}

func (c *Consumer) setState(s State) {
	if s == c.state {
		return
	}
	if c.state >= 0 {
		log.Printf("consumer 状态：%s -> %s", c.state, s)
	}
	c.state = s
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// Run 一直消费结果 pipe，直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context) {
	c.jobs = make(chan wire.Result, c.cfg.QueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.work(ctx, c.jobs)
	}()
	defer func() {
		close(c.jobs)
		<-done
		c.setState(Stopped)
	}()
	for ctx.Err() == nil {
		c.setState(WaitingForPipe)
		r, err := c.cfg.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("打开结果 pipe 失败，稍后重试：%v", err)
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		c.setState(Connected)
		c.session(ctx, r)
		r.Close()
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			return
		}
	}
}

func (c *Consumer) session(ctx context.Context, r pipe.FrameReader) {
	size := c.cfg.Layout.FrameSize()
	wd := pipe.NewWatchdog(c.cfg.MaxEmptyReads, c.cfg.ConnectionTimeout, c.cfg.Now())
	for ctx.Err() == nil {
		frame, err := r.ReadFrame(size)
		now := c.cfg.Now()
		switch {
		case err == nil:
			c.setState(Reading)
			wd.Data(now)
			res, err := wire.DecodeResult(c.cfg.Layout, frame)
			if err != nil {
				log.Printf("丢弃非法结果：%v", err)
				continue
			}
			c.enqueue(res)

		case errors.Is(err, pipe.ErrNoData) || errors.Is(err, pipe.ErrPeerClosed):
			if wd.Empty(now) {
				c.setState(Reconnecting)
				return
			}
			c.setState(IdleBackoff)
			if !sleepCtx(ctx, c.cfg.IdleBackoff) {
				return
			}

		default:
			log.Printf("读取结果 pipe 失败：%v", err)
			c.setState(Reconnecting)
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
