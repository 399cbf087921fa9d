package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// harness drives a Ticker with synthetic clock times and records seeks.
type harness struct {
	mu     sync.Mutex
	frame  float64
	seeks  []float64
	done   int
	seeked chan struct{}
}

func newHarness(fps float64, duration float64) (*Ticker, *harness) {
	h := &harness{seeked: make(chan struct{}, 16)}
	tk := New(Config{
		Framerate: fps,
		CurrentFrame: func() float64 {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.frame
		},
		Duration: func() float64 { return duration },
		Seek: func(ctx context.Context, frame float64) error {
			h.mu.Lock()
			h.frame = frame
			h.seeks = append(h.seeks, frame)
			h.mu.Unlock()
			h.seeked <- struct{}{}
			return nil
		},
		OnComplete: func(ctx context.Context) {
			h.mu.Lock()
			h.done++
			h.mu.Unlock()
		},
	})
	return tk, h
}

// waitSeek waits for the async seek goroutine to finish and the busy flag to
// clear before the next synthetic tick.
func (h *harness) waitSeek(t *testing.T) {
	t.Helper()
	select {
	case <-h.seeked:
	case <-time.After(time.Second):
		t.Fatal("Seek did not run")
	}
	// busy is released after the seek returns; give the goroutine a moment
	time.Sleep(5 * time.Millisecond)
}

func (h *harness) seekList() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]float64, len(h.seeks))
	copy(out, h.seeks)
	return out
}

func TestFirstTickAnchors(t *testing.T) {
	tk, h := newHarness(100, 1000)
	ctx := context.Background()
	base := time.Now()

	tk.Tick(ctx, base)
	time.Sleep(10 * time.Millisecond)
	if len(h.seekList()) != 0 {
		t.Errorf("Expected no seek on the first tick, got %v", h.seekList())
	}
}

func TestLateTickAdvancesMultipleFrames(t *testing.T) {
	// fps=100 means renderDuration=10ms. A tick 25ms late carries 1.5 frames
	// of drift: ceil gives a 2-frame jump and 5ms stays in the accumulator.
	tk, h := newHarness(100, 1000)
	ctx := context.Background()
	base := time.Now()

	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(25*time.Millisecond))
	h.waitSeek(t)

	seeks := h.seekList()
	if len(seeks) != 1 || seeks[0] != 2 {
		t.Fatalf("Expected one seek to frame 2, got %v", seeks)
	}

	// The retained 5ms pushes the next on-time tick over a frame boundary
	tk.Tick(ctx, base.Add(35*time.Millisecond))
	h.waitSeek(t)
	seeks = h.seekList()
	if len(seeks) != 2 || seeks[1] != 3 {
		t.Errorf("Expected second seek to frame 3, got %v", seeks)
	}
}

func TestExactCadenceSkips(t *testing.T) {
	tk, h := newHarness(100, 1000)
	ctx := context.Background()
	base := time.Now()

	tk.Tick(ctx, base)
	for i := 1; i <= 3; i++ {
		tk.Tick(ctx, base.Add(time.Duration(i)*10*time.Millisecond))
	}
	time.Sleep(10 * time.Millisecond)
	if len(h.seekList()) != 0 {
		t.Errorf("Expected no seeks on exact cadence, got %v", h.seekList())
	}
}

func TestFastTickingAccumulator(t *testing.T) {
	// Ticks arriving every 6ms against a 10ms frame: the leftover update runs
	// even when no frames advance, so the accumulator drifts positive and a
	// frame fires after only 12ms. Longstanding behavior; sync code downstream
	// is tuned to it.
	tk, h := newHarness(100, 1000)
	ctx := context.Background()
	base := time.Now()

	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(6*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	if len(h.seekList()) != 0 {
		t.Fatalf("Expected no seek after one fast tick, got %v", h.seekList())
	}

	tk.Tick(ctx, base.Add(12*time.Millisecond))
	h.waitSeek(t)
	seeks := h.seekList()
	if len(seeks) != 1 || seeks[0] != 1 {
		t.Errorf("Expected early seek to frame 1 at 12ms, got %v", seeks)
	}
}

func TestCompleteAtEnd(t *testing.T) {
	tk, h := newHarness(100, 5)
	ctx := context.Background()
	base := time.Now()

	h.frame = 5 // already at the last frame
	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(25*time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	h.mu.Lock()
	done, seeks := h.done, len(h.seeks)
	h.mu.Unlock()
	if done != 1 {
		t.Errorf("Expected OnComplete once, got %d", done)
	}
	if seeks != 0 {
		t.Errorf("Expected no seek past the end, got %d", seeks)
	}
}

func TestTickDuringSeekIsSkipped(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seeks []float64

	tk := New(Config{
		Framerate:    100,
		CurrentFrame: func() float64 { return 0 },
		Duration:     func() float64 { return 1000 },
		Seek: func(ctx context.Context, frame float64) error {
			mu.Lock()
			seeks = append(seeks, frame)
			mu.Unlock()
			<-release
			return nil
		},
	})

	ctx := context.Background()
	base := time.Now()
	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(25*time.Millisecond))

	// Give the seek goroutine time to park, then tick again: busy, skipped
	time.Sleep(20 * time.Millisecond)
	tk.Tick(ctx, base.Add(50*time.Millisecond))

	mu.Lock()
	n := len(seeks)
	mu.Unlock()
	if n != 1 {
		t.Errorf("Expected 1 seek while busy, got %d", n)
	}
	close(release)
}

func TestResetReanchors(t *testing.T) {
	tk, h := newHarness(100, 1000)
	ctx := context.Background()
	base := time.Now()

	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(25*time.Millisecond))
	h.waitSeek(t)

	tk.Reset()

	// After a reset the next tick anchors again: a big gap must not jump
	tk.Tick(ctx, base.Add(500*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	if n := len(h.seekList()); n != 1 {
		t.Errorf("Expected no new seek after reset anchor, got %d total", n)
	}
}

func TestSeekErrorReachesOnError(t *testing.T) {
	errs := make(chan error, 1)
	tk := New(Config{
		Framerate:    100,
		CurrentFrame: func() float64 { return 0 },
		Duration:     func() float64 { return 1000 },
		Seek: func(ctx context.Context, frame float64) error {
			return errors.New("decoder stall")
		},
		OnError: func(err error) { errs <- err },
	})

	ctx := context.Background()
	base := time.Now()
	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(25*time.Millisecond))

	select {
	case err := <-errs:
		if err == nil || err.Error() != "decoder stall" {
			t.Errorf("Expected the seek error surfaced, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Seek error never reported")
	}
}

func TestMeasureListenerMayReset(t *testing.T) {
	var tk *Ticker
	tk = New(Config{
		Framerate:    100,
		CurrentFrame: func() float64 { return 0 },
		Duration:     func() float64 { return 1000 },
		Seek:         func(ctx context.Context, frame float64) error { return nil },
		OnMeasure:    func(fps float64, seekElapsed time.Duration) { tk.Reset() },
	})

	ctx := context.Background()
	base := time.Now()
	done := make(chan struct{})
	go func() {
		tk.Tick(ctx, base)
		tk.Tick(ctx, base.Add(25*time.Millisecond))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Tick deadlocked on a reentrant measure listener")
	}
}

func TestOnMeasureReportsFPS(t *testing.T) {
	var got float64
	tk := New(Config{
		Framerate:    60,
		CurrentFrame: func() float64 { return 0 },
		Duration:     func() float64 { return 1000 },
		Seek:         func(ctx context.Context, frame float64) error { return nil },
		OnMeasure:    func(fps float64, seekElapsed time.Duration) { got = fps },
	})

	ctx := context.Background()
	base := time.Now()
	tk.Tick(ctx, base)
	tk.Tick(ctx, base.Add(20*time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	if got < 49.9 || got > 50.1 {
		t.Errorf("Expected measured fps about 50, got %f", got)
	}
}
