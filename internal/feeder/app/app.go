package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"netsparrow/internal/feeder/filter"
	"netsparrow/internal/feeder/frame"
	"netsparrow/internal/feeder/source"
	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
)

type Config struct {
	Pipe string
	// 三选一：网卡、pcap 文件、CSV 数据集
	Interface string
	PcapFile  string
	CSVFile   string

	SnapLen   int
	Protocols []uint8
	// Delay 是两条记录之间的间隔，回放文件时用来限速
	Delay          time.Duration
	Loop           bool
	WaitTimeout    time.Duration
	ReconnectDelay time.Duration

	OpenWriter  func(ctx context.Context) (pipe.FrameWriter, error)
	OpenRecords func() (Records, error)
}

// Records 逐条产出输入记录，来源读完返回 io.EOF。
type Records interface {
	Next(ctx context.Context) (wire.PacketRecord, error)
	Close() error
}

type Stats struct {
	Sent    int
	Dropped int
	Skipped int
}

// packetRecords 把原始帧转换成记录，非 IPv4 帧跳过。
type packetRecords struct {
	src     source.Packets
	skipped *int
}

func (p *packetRecords) Next(ctx context.Context) (wire.PacketRecord, error) {
	for {
		data, ci, err := p.src.ReadPacket(ctx)
		if err != nil {
			return wire.PacketRecord{}, err
		}
		rec, err := frame.Build(data, p.src.LinkType(), ci)
		if errors.Is(err, frame.ErrNotIPv4) {
			*p.skipped++
			continue
		}
		return rec, err
	}
}

func (p *packetRecords) Close() error { return p.src.Close() }

func (c *Config) opener(st *Stats) (func() (Records, error), error) {
	switch {
	case c.OpenRecords != nil:
		return c.OpenRecords, nil
	case c.Interface != "":
		return func() (Records, error) {
			h, err := source.NewAFPacketHandle(c.Interface, c.SnapLen)
			if err != nil {
				return nil, err
			}
			ins, err := filter.IPv4BPF(c.Protocols...)
			if err != nil {
				h.Close()
				return nil, err
			}
			if err := h.SetBPF(ins); err != nil {
				h.Close()
				return nil, fmt.Errorf("设置 BPF 失败：%w", err)
			}
			return &packetRecords{src: h, skipped: &st.Skipped}, nil
		}, nil
	case c.PcapFile != "":
		return func() (Records, error) {
			f, err := source.OpenPcapFile(c.PcapFile)
			if err != nil {
				return nil, err
			}
			return &packetRecords{src: f, skipped: &st.Skipped}, nil
		}, nil
	case c.CSVFile != "":
		return func() (Records, error) { return source.OpenCSV(c.CSVFile) }, nil
	}
	return nil, errors.New("需要指定 interface、pcap 文件或 CSV 文件之一")
}

// Run 把记录写入输入 pipe，直到来源读完（Loop 时从头再来）或 ctx 结束。
// analyzer 在 WaitTimeout 内一直没有打开读端时返回错误。
func Run(ctx context.Context, cfg Config) (Stats, error) {
	var st Stats
	open, err := cfg.opener(&st)
	if err != nil {
		return st, err
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	if cfg.OpenWriter == nil {
		if err := pipe.Create(cfg.Pipe); err != nil {
			return st, fmt.Errorf("创建输入 pipe 失败：%w", err)
		}
		path, timeout := cfg.Pipe, cfg.WaitTimeout
		cfg.OpenWriter = func(ctx context.Context) (pipe.FrameWriter, error) {
			return pipe.Open(ctx, path, pipe.Write, timeout)
		}
	}

	f := &feeder{cfg: cfg, st: &st}
	defer f.closeWriter()

	for {
		recs, err := open()
		if err != nil {
			return st, err
		}
		err = f.pump(ctx, recs)
		recs.Close()
		if err != nil || ctx.Err() != nil {
			return st, err
		}
		if !cfg.Loop {
			log.Printf("来源读完：sent=%d dropped=%d skipped=%d", st.Sent, st.Dropped, st.Skipped)
			return st, nil
		}
		log.Printf("来源读完，从头回放")
	}
}

type feeder struct {
	cfg Config
	st  *Stats
	w   pipe.FrameWriter
}

func (f *feeder) closeWriter() {
	if f.w != nil {
		f.w.Close()
		f.w = nil
	}
}

func (f *feeder) pump(ctx context.Context, recs Records) error {
	for ctx.Err() == nil {
		rec, err := recs.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if f.w == nil {
			w, err := f.cfg.OpenWriter(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("analyzer 未打开输入 pipe：%w", err)
			}
			log.Printf("输入 pipe 已连接")
			f.w = w
		}

		switch err := f.w.WriteFrame(wire.EncodePacket(rec)); {
		case err == nil:
			f.st.Sent++
		case errors.Is(err, pipe.ErrPeerClosed):
			f.st.Dropped++
			log.Printf("analyzer 关闭了输入 pipe，重新等待")
			f.closeWriter()
			if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
				return nil
			}
		default:
			f.st.Dropped++
			log.Printf("写入记录失败（丢弃）：%v", err)
		}

		if !sleepCtx(ctx, f.cfg.Delay) {
			return nil
		}
	}
	return nil
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
