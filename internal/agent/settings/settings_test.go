package settings

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStore_SwapAndLoad(t *testing.T) {
	s := NewStore(Settings{Threshold: 0.9})
	if s.Threshold() != 0.9 {
		t.Fatalf("threshold=%v", s.Threshold())
	}
	old := s.Swap(Settings{Threshold: 0.75, MLPercentage: 40})
	if old.Threshold != 0.9 {
		t.Errorf("old=%+v", old)
	}
	if got := s.Load(); got.Threshold != 0.75 || got.MLPercentage != 40 {
		t.Errorf("load=%+v", got)
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore(Settings{Threshold: 0.5})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if v := s.Threshold(); v != 0.5 && v != 0.8 {
					t.Errorf("torn read %v", v)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		s.Swap(Settings{Threshold: 0.8})
		s.Swap(Settings{Threshold: 0.5})
	}
	wg.Wait()
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.txt")
	want := Settings{Threshold: 0.85, MLPercentage: 30, UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if err := WriteFile(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Threshold != want.Threshold || got.MLPercentage != want.MLPercentage || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestUnmarshal(t *testing.T) {
	st, err := Unmarshal([]byte("# comment\nthreshold = 0.7\nunknown=1\n\n"))
	if err != nil || st.Threshold != 0.7 {
		t.Fatalf("st=%+v err=%v", st, err)
	}
	if _, err := Unmarshal([]byte("threshold=high\n")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Unmarshal([]byte("threshold\n")); err == nil {
		t.Error("expected missing '=' error")
	}
}
