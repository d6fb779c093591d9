package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"netsparrow/internal/analyzer/batch"
	"netsparrow/internal/analyzer/classify"
	"netsparrow/internal/analyzer/emit"
	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
)

type Config struct {
	InputPipe  string
	OutputPipe string
	Layout     wire.Layout
	// FlagThreshold 只在 address-only 布局下使用
	FlagThreshold float32

	Batch             batch.Config
	WaitTimeout       time.Duration
	ReconnectDelay    time.Duration
	IdleBackoff       time.Duration
	MaxEmptyReads     int
	ConnectionTimeout time.Duration
	// DrainTimeout 限制关闭时最后一批分类可用的时间
	DrainTimeout time.Duration

	Classifier classify.Classifier

	// 以下字段为空时使用 pipe.Open；测试注入假的读写端。
	OpenReader func(ctx context.Context) (pipe.FrameReader, error)
	OpenWriter func(ctx context.Context) (pipe.FrameWriter, error)
	Now        func() time.Time
}

// Totals 是整个进程生命周期内的累计计数。
type Totals struct {
	Read      int
	Malformed int
	Batches   int
	Dropped   int
	Written   int
	Failed    int
}

func (c *Config) setDefaults() {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = 0
	}
	if c.IdleBackoff < 0 {
		c.IdleBackoff = 0
	}
	if c.MaxEmptyReads <= 0 {
		c.MaxEmptyReads = 500
	}
	if c.ConnectionTimeout < 0 {
		c.ConnectionTimeout = 0
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OpenReader == nil {
		path, timeout := c.InputPipe, c.WaitTimeout
		c.OpenReader = func(ctx context.Context) (pipe.FrameReader, error) {
			return pipe.Open(ctx, path, pipe.Read, timeout)
		}
	}
	if c.OpenWriter == nil {
		path, timeout := c.OutputPipe, c.WaitTimeout
		c.OpenWriter = func(ctx context.Context) (pipe.FrameWriter, error) {
			return pipe.Open(ctx, path, pipe.Write, timeout)
		}
	}
}

// Run 运行热路径直到 ctx 结束：读输入 pipe、攒批、分类、写输出 pipe，任一端断开就重连。
// 只有创建 pipe 失败会返回错误。
func Run(ctx context.Context, cfg Config) (Totals, error) {
	var totals Totals
	if cfg.Classifier == nil {
		return totals, errors.New("未配置分类器")
	}
	if cfg.OpenReader == nil {
		if err := pipe.Create(cfg.InputPipe); err != nil {
			return totals, fmt.Errorf("创建输入 pipe 失败：%w", err)
		}
	}
	if cfg.OpenWriter == nil {
		if err := pipe.Create(cfg.OutputPipe); err != nil {
			return totals, fmt.Errorf("创建输出 pipe 失败：%w", err)
		}
	}
	cfg.setDefaults()

	s := &session{cfg: cfg, classifier: classify.Guard(cfg.Classifier), totals: &totals}
	log.Printf("analyzer 启动：in=%s out=%s layout=%s batch=%d", cfg.InputPipe, cfg.OutputPipe, cfg.Layout, cfg.Batch.Capacity)

	for {
		s.run(ctx)
		if ctx.Err() != nil {
			log.Printf("analyzer 退出：read=%d batches=%d written=%d failed=%d dropped=%d",
				totals.Read, totals.Batches, totals.Written, totals.Failed, totals.Dropped)
			return totals, nil
		}
		if !sleepCtx(ctx, cfg.ReconnectDelay) {
			return totals, nil
		}
	}
}

type session struct {
	cfg        Config
	classifier classify.Classifier
	totals     *Totals
}

// run 处理一次连接，返回时两端都已关闭，缓冲区中的记录也已处理完。
func (s *session) run(ctx context.Context) {
	r, err := s.cfg.OpenReader(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("打开输入 pipe 失败，稍后重试：%v", err)
		}
		return
	}
	defer r.Close()

	w, err := s.cfg.OpenWriter(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("打开输出 pipe 失败，稍后重试：%v", err)
		}
		return
	}
	defer w.Close()

	em := emit.New(w, s.cfg.Layout, s.cfg.FlagThreshold)
	agg := batch.New(s.cfg.Batch)
	wd := pipe.NewWatchdog(s.cfg.MaxEmptyReads, s.cfg.ConnectionTimeout, s.cfg.Now())
	log.Printf("pipe 已连接")

	defer func() {
		if b, ok := agg.Drain(); ok {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DrainTimeout)
			s.process(dctx, em, b)
			cancel()
		}
	}()

	for ctx.Err() == nil {
		frame, err := r.ReadFrame(wire.PacketFrameSize)
		now := s.cfg.Now()
		switch {
		case err == nil:
			wd.Data(now)
			s.totals.Read++
			rec, err := wire.DecodePacket(frame)
			if err != nil {
				s.totals.Malformed++
				log.Printf("丢弃非法记录：%v", err)
				continue
			}
			if b, ok := agg.Add(rec, now); ok {
				if s.process(ctx, em, b) {
					log.Printf("输出 pipe 读端已关闭，重连")
					return
				}
			}

		case errors.Is(err, pipe.ErrNoData) || errors.Is(err, pipe.ErrPeerClosed):
			if wd.Empty(now) {
				log.Printf("连续空读 %d 次、超过 %s 未收到数据，重连", wd.EmptyReads(), s.cfg.ConnectionTimeout)
				return
			}
			if b, ok := agg.Idle(wd.EmptyReads(), now); ok {
				if s.process(ctx, em, b) {
					log.Printf("输出 pipe 读端已关闭，重连")
					return
				}
			}
			if !sleepCtx(ctx, s.cfg.IdleBackoff) {
				return
			}

		default:
			log.Printf("读取输入 pipe 失败，重连：%v", err)
			return
		}
	}
}

// process 分类并写出一批，返回输出端是否已断开。
func (s *session) process(ctx context.Context, em *emit.Emitter, b batch.Batch) bool {
	s.totals.Batches++
	scores, err := s.classifier.Classify(ctx, b)
	if err != nil {
		s.totals.Dropped += b.Len()
		log.Printf("batch=%s 分类失败，丢弃 %d 条：%v", b.ID, b.Len(), err)
		return false
	}
	st := em.Emit(b, scores)
	s.totals.Written += st.Written
	s.totals.Failed += st.Failed
	return st.PeerClosed
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
