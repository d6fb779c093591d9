package batch

import (
	"time"

	"github.com/google/uuid"

	"netsparrow/internal/wire"
)

// Batch 交给分类器后，在一次分类调用期间归分类器所有。
type Batch struct {
	ID      string
	Records []wire.PacketRecord
}

func (b Batch) Len() int { return len(b.Records) }

type Config struct {
	Capacity int
	// IdleReads 是触发空闲 flush 所需的连续空读次数。
	IdleReads int
	// IdlePeriod 是最后一次追加记录之后至少要等待的时间。
	IdlePeriod time.Duration
}

// Aggregator 按容量或空闲超时把输入记录攒成批。只在热路径 goroutine 中使用，不加锁。
type Aggregator struct {
	cfg        Config
	buf        []wire.PacketRecord
	lastAppend time.Time
}

func New(cfg Config) *Aggregator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.IdleReads <= 0 {
		cfg.IdleReads = 1
	}
	return &Aggregator{
		cfg: cfg,
		buf: make([]wire.PacketRecord, 0, cfg.Capacity),
	}
}

func (a *Aggregator) Len() int { return len(a.buf) }

// Add 追加一条记录；缓冲区满时返回整批。
func (a *Aggregator) Add(rec wire.PacketRecord, now time.Time) (Batch, bool) {
	a.buf = append(a.buf, rec)
	a.lastAppend = now
	if len(a.buf) >= a.cfg.Capacity {
		return a.flush(), true
	}
	return Batch{}, false
}

// Idle 在缓冲区非空、连续空读足够多并且空闲期已过时返回当前批。
func (a *Aggregator) Idle(emptyReads int, now time.Time) (Batch, bool) {
	if len(a.buf) == 0 || emptyReads < a.cfg.IdleReads {
		return Batch{}, false
	}
	if now.Sub(a.lastAppend) < a.cfg.IdlePeriod {
		return Batch{}, false
	}
	return a.flush(), true
}

// Drain 无条件取出缓冲区中剩余的记录（关闭或重连前调用）。
func (a *Aggregator) Drain() (Batch, bool) {
	if len(a.buf) == 0 {
		return Batch{}, false
	}
	return a.flush(), true
}

func (a *Aggregator) flush() Batch {
	// 按值交出：复制一份，内部缓冲区复用
	records := make([]wire.PacketRecord, len(a.buf))
	copy(records, a.buf)
	a.buf = a.buf[:0]
	return Batch{ID: uuid.NewString(), Records: records}
}
