package pipe

import "time"

// Watchdog 判断一个非阻塞读端是否应该重连：连续空读次数达到 MaxEmptyReads，
// 并且距上一次读到 frame 已超过 Timeout（覆盖写端进程重启的情况）。
type Watchdog struct {
	MaxEmptyReads int
	Timeout       time.Duration

	empty    int
	lastData time.Time
}

func NewWatchdog(maxEmptyReads int, timeout time.Duration, now time.Time) *Watchdog {
	return &Watchdog{MaxEmptyReads: maxEmptyReads, Timeout: timeout, lastData: now}
}

func (w *Watchdog) Data(now time.Time) {
	w.empty = 0
	w.lastData = now
}

// Empty 记录一次空读，返回 true 表示应该重连。
func (w *Watchdog) Empty(now time.Time) bool {
	w.empty++
	return w.empty >= w.MaxEmptyReads && now.Sub(w.lastData) > w.Timeout
}

func (w *Watchdog) EmptyReads() int { return w.empty }
