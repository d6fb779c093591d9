package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"netsparrow/internal/analyzer/batch"
	"netsparrow/internal/analyzer/classify"
	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
)

// scriptReader 依次返回给定的 frame，之后一直返回 ErrNoData；
// 空读次数达到 stopAfter 时调用 onEmpty（通常是 cancel）。
type scriptReader struct {
	frames    [][]byte
	empty     int
	stopAfter int
	onEmpty   func()
}

func (r *scriptReader) ReadFrame(size int) ([]byte, error) {
	if len(r.frames) > 0 {
		f := r.frames[0]
		r.frames = r.frames[1:]
		return f, nil
	}
	r.empty++
	if r.stopAfter > 0 && r.empty >= r.stopAfter && r.onEmpty != nil {
		r.onEmpty()
	}
	return nil, pipe.ErrNoData
}

func (r *scriptReader) Close() error { return nil }

type memWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *memWriter) WriteFrame(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), b...))
	return nil
}

func (w *memWriter) Close() error { return nil }

func packetFrames(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, wire.EncodePacket(wire.PacketRecord{
			Timestamp:    uint32(i),
			Src:          [4]byte{1, 2, 3, byte(i)},
			Dst:          [4]byte{5, 6, 7, 8},
			DeclaredSize: 60,
			Protocol:     6,
		}))
	}
	return out
}

func baseConfig(r pipe.FrameReader, w pipe.FrameWriter) Config {
	return Config{
		Layout:      wire.LayoutScored,
		Batch:       batch.Config{Capacity: 100, IdleReads: 1000},
		IdleBackoff: 0,
		Classifier:  classify.Constant(0.5),
		OpenReader:  func(context.Context) (pipe.FrameReader, error) { return r, nil },
		OpenWriter:  func(context.Context) (pipe.FrameWriter, error) { return w, nil },
	}
}

func TestRun_EmitsOneResultPerRecordInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 250 条：两个满批加上关闭时 drain 出的 50 条
	r := &scriptReader{frames: packetFrames(250), stopAfter: 1, onEmpty: cancel}
	w := &memWriter{}

	totals, err := Run(ctx, baseConfig(r, w))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if totals.Read != 250 || totals.Written != 250 || totals.Batches != 3 {
		t.Fatalf("totals=%+v", totals)
	}
	if len(w.frames) != 250 {
		t.Fatalf("frames=%d", len(w.frames))
	}
	for i, f := range w.frames {
		res, err := wire.DecodeResult(wire.LayoutScored, f)
		if err != nil {
			t.Fatal(err)
		}
		if res.Src != [4]byte{1, 2, 3, byte(i)} || res.Confidence != 0.5 {
			t.Fatalf("frame %d = %+v", i, res)
		}
	}
}

func TestRun_IdleFlush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &memWriter{}
	r := &scriptReader{frames: packetFrames(3), stopAfter: 5}
	// 第 5 次空读时空闲 flush 应该已经发生
	r.onEmpty = func() {
		w.mu.Lock()
		n := len(w.frames)
		w.mu.Unlock()
		if n != 3 {
			t.Errorf("idle flush did not happen, frames=%d", n)
		}
		cancel()
	}

	cfg := baseConfig(r, w)
	cfg.Batch = batch.Config{Capacity: 100, IdleReads: 2}
	totals, err := Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Batches != 1 || totals.Written != 3 {
		t.Fatalf("totals=%+v", totals)
	}
}

func TestRun_ClassifierFailureDropsBatchAndContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	failFirst := classify.Func(func(_ context.Context, b batch.Batch) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model unavailable")
		}
		return make([]float32, b.Len()), nil
	})

	r := &scriptReader{frames: packetFrames(4), stopAfter: 1, onEmpty: cancel}
	w := &memWriter{}
	cfg := baseConfig(r, w)
	cfg.Batch.Capacity = 2
	cfg.Classifier = failFirst

	totals, err := Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Dropped != 2 || totals.Written != 2 || len(w.frames) != 2 {
		t.Fatalf("totals=%+v frames=%d", totals, len(w.frames))
	}
	res, _ := wire.DecodeResult(wire.LayoutScored, w.frames[0])
	if res.Src != [4]byte{1, 2, 3, 2} {
		t.Errorf("first written record should come from the second batch, got %+v", res)
	}
}

func TestRun_MalformedRecordDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := packetFrames(2)
	bad := wire.EncodePacket(wire.PacketRecord{DeclaredSize: 1501})
	frames = append([][]byte{bad}, frames...)

	r := &scriptReader{frames: frames, stopAfter: 1, onEmpty: cancel}
	w := &memWriter{}
	totals, err := Run(ctx, baseConfig(r, w))
	if err != nil {
		t.Fatal(err)
	}
	if totals.Malformed != 1 || totals.Written != 2 {
		t.Fatalf("totals=%+v", totals)
	}
}

func TestRun_WatchdogReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := time.Unix(0, 0)
	opens := 0
	w := &memWriter{}
	cfg := baseConfig(nil, w)
	cfg.MaxEmptyReads = 500
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.Now = func() time.Time {
		clock = clock.Add(20 * time.Millisecond)
		return clock
	}
	cfg.OpenReader = func(context.Context) (pipe.FrameReader, error) {
		opens++
		if opens == 2 {
			cancel()
		}
		return &scriptReader{}, nil
	}

	if _, err := Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if opens != 2 {
		t.Fatalf("opens=%d, want reconnect after empty reads", opens)
	}
}

func TestRun_OpenFailureRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	cfg := baseConfig(nil, &memWriter{})
	cfg.ReconnectDelay = time.Millisecond
	cfg.OpenReader = func(context.Context) (pipe.FrameReader, error) {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return nil, pipe.ErrPipeUnavailable
	}
	if _, err := Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d", attempts)
	}
}

func TestRun_RequiresClassifier(t *testing.T) {
	cfg := baseConfig(&scriptReader{}, &memWriter{})
	cfg.Classifier = nil
	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}
