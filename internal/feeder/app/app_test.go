package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
)

type sliceRecords struct {
	recs   []wire.PacketRecord
	closed bool
}

func (s *sliceRecords) Next(context.Context) (wire.PacketRecord, error) {
	if len(s.recs) == 0 {
		return wire.PacketRecord{}, io.EOF
	}
	r := s.recs[0]
	s.recs = s.recs[1:]
	return r, nil
}

func (s *sliceRecords) Close() error { s.closed = true; return nil }

type fakeWriter struct {
	frames [][]byte
	errAt  map[int]error
	calls  int
	closed bool
}

func (w *fakeWriter) WriteFrame(b []byte) error {
	w.calls++
	if err := w.errAt[w.calls]; err != nil {
		return err
	}
	w.frames = append(w.frames, append([]byte(nil), b...))
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func records(n int) []wire.PacketRecord {
	out := make([]wire.PacketRecord, n)
	for i := range out {
		out[i] = wire.PacketRecord{
			Timestamp:    uint32(i),
			Src:          [4]byte{10, 0, 0, byte(i)},
			Dst:          [4]byte{1, 2, 3, 4},
			Protocol:     6,
			DeclaredSize: 60,
		}
	}
	return out
}

func TestRun_WritesEveryRecordInOrder(t *testing.T) {
	w := &fakeWriter{}
	src := &sliceRecords{recs: records(5)}
	st, err := Run(context.Background(), Config{
		OpenRecords: func() (Records, error) { return src, nil },
		OpenWriter:  func(context.Context) (pipe.FrameWriter, error) { return w, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Sent != 5 || len(w.frames) != 5 {
		t.Fatalf("stats=%+v frames=%d", st, len(w.frames))
	}
	for i, f := range w.frames {
		if len(f) != wire.PacketFrameSize {
			t.Fatalf("frame %d size=%d", i, len(f))
		}
		rec, err := wire.DecodePacket(f)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Src[3] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, rec.Src)
		}
	}
	if !src.closed || !w.closed {
		t.Fatalf("source closed=%v writer closed=%v", src.closed, w.closed)
	}
}

func TestRun_ReopensAfterPeerClosed(t *testing.T) {
	first := &fakeWriter{errAt: map[int]error{2: pipe.ErrPeerClosed}}
	second := &fakeWriter{}
	writers := []*fakeWriter{first, second}
	opens := 0

	st, err := Run(context.Background(), Config{
		OpenRecords: func() (Records, error) { return &sliceRecords{recs: records(4)}, nil },
		OpenWriter: func(context.Context) (pipe.FrameWriter, error) {
			w := writers[opens]
			opens++
			return w, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if opens != 2 || !first.closed {
		t.Fatalf("opens=%d first closed=%v", opens, first.closed)
	}
	if st.Sent != 3 || st.Dropped != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if len(first.frames) != 1 || len(second.frames) != 2 {
		t.Fatalf("first=%d second=%d", len(first.frames), len(second.frames))
	}
}

func TestRun_BlockedWriteDropsRecord(t *testing.T) {
	w := &fakeWriter{errAt: map[int]error{1: pipe.ErrWriteBlocked}}
	st, err := Run(context.Background(), Config{
		OpenRecords: func() (Records, error) { return &sliceRecords{recs: records(3)}, nil },
		OpenWriter:  func(context.Context) (pipe.FrameWriter, error) { return w, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Sent != 2 || st.Dropped != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRun_AnalyzerNeverOpens(t *testing.T) {
	_, err := Run(context.Background(), Config{
		OpenRecords: func() (Records, error) { return &sliceRecords{recs: records(1)}, nil },
		OpenWriter: func(context.Context) (pipe.FrameWriter, error) {
			return nil, pipe.ErrPipeUnavailable
		},
	})
	if !errors.Is(err, pipe.ErrPipeUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_LoopUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &fakeWriter{}
	passes := 0
	st, err := Run(ctx, Config{
		Loop: true,
		OpenRecords: func() (Records, error) {
			passes++
			if passes == 3 {
				cancel()
			}
			return &sliceRecords{recs: records(2)}, nil
		},
		OpenWriter: func(context.Context) (pipe.FrameWriter, error) { return w, nil },
		Delay:      time.Microsecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if passes != 3 || st.Sent != 4 {
		t.Fatalf("passes=%d stats=%+v", passes, st)
	}
}

func TestRun_NeedsSource(t *testing.T) {
	if _, err := Run(context.Background(), Config{Pipe: "/tmp/x"}); err == nil {
		t.Fatal("expected error without a record source")
	}
}
