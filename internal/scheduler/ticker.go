package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Config wires a Ticker to its playback driver.
type Config struct {
	Framerate float64

	CurrentFrame func() float64
	Duration     func() float64

	// Seek advances playback to the given frame. It may block on media
	// elements; the ticker refuses to start a new tick until it returns.
	Seek func(ctx context.Context, frame float64) error

	// OnComplete fires when the next frame would pass the duration.
	OnComplete func(ctx context.Context)

	// OnMeasure receives the FPS measured from the drive-signal spacing and
	// the wall time the last seek took. Optional.
	OnMeasure func(fps float64, seekElapsed time.Duration)

	// OnError receives seek failures. Supersession is resolved downstream,
	// so anything arriving here is a real failure. Optional.
	OnError func(err error)
}

// Ticker advances playback by a small, drift-corrected number of frames per
// drive signal. The arithmetic, including the leftover accumulator, follows
// the original loop exactly; sync code downstream depends on its timing.
type Ticker struct {
	cfg Config

	mu              sync.Mutex
	first           bool
	lastTick        time.Time
	frameDifference float64
	lastSeekTime    time.Duration

	busy atomic.Bool
}

// New creates a ticker in the pre-start state.
func New(cfg Config) *Ticker {
	return &Ticker{cfg: cfg, first: true}
}

// Reset prepares for a fresh playback run. The next tick anchors to the
// current frame instead of jumping.
func (t *Ticker) Reset() {
	t.mu.Lock()
	t.first = true
	t.frameDifference = 0
	t.mu.Unlock()
}

// Tick handles one drive signal. If the previous tick's seek has not
// resolved yet the call is a silent no-op; that is a skip, not an error.
func (t *Ticker) Tick(ctx context.Context, now time.Time) {
	if !t.busy.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	renderDuration := 1000.0 / t.cfg.Framerate

	if t.first {
		// First tick after (re)start: anchor, no jump.
		t.first = false
		t.lastTick = now
		t.mu.Unlock()
		t.busy.Store(false)
		return
	}

	timeSinceLastTick := float64(now.Sub(t.lastTick)) / float64(time.Millisecond)
	t.lastTick = now
	t.frameDifference += timeSinceLastTick - renderDuration
	seekElapsed := t.lastSeekTime
	if t.frameDifference == 0 {
		// No perceptible drift yet.
		t.mu.Unlock()
		t.measure(timeSinceLastTick, seekElapsed)
		t.busy.Store(false)
		return
	}

	frameProgression := math.Ceil(t.frameDifference / renderDuration)
	if frameProgression < 0 {
		frameProgression = 0
	}
	// Retain leftover drift. This also runs when frameProgression is zero;
	// the accumulator behavior under sustained fast ticking is covered by a
	// regression test and must not be "fixed".
	t.frameDifference += renderDuration * (1 - frameProgression)
	t.mu.Unlock()

	// Callbacks may call back into the ticker, so fire outside the lock.
	t.measure(timeSinceLastTick, seekElapsed)
	currentFrame := t.cfg.CurrentFrame()
	nextFrame := currentFrame + frameProgression

	if nextFrame > t.cfg.Duration() {
		t.busy.Store(false)
		if t.cfg.OnComplete != nil {
			t.cfg.OnComplete(ctx)
		}
		return
	}
	if nextFrame == currentFrame {
		t.busy.Store(false)
		return
	}

	go func() {
		defer t.busy.Store(false)
		start := time.Now()
		err := t.cfg.Seek(ctx, nextFrame)
		t.mu.Lock()
		t.lastSeekTime = time.Since(start)
		t.mu.Unlock()
		if err != nil && t.cfg.OnError != nil {
			t.cfg.OnError(err)
		}
	}()
}

func (t *Ticker) measure(sinceLast float64, seekElapsed time.Duration) {
	if t.cfg.OnMeasure != nil && sinceLast > 0 {
		t.cfg.OnMeasure(1000.0/sinceLast, seekElapsed)
	}
}

// Run fires ticks from an internal drive signal until the context ends.
// Hosts with their own refresh signal call Tick directly instead.
func (t *Ticker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	drive := time.NewTicker(interval)
	defer drive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-drive.C:
			t.Tick(ctx, now)
		}
	}
}
