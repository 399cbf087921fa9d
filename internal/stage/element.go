package stage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SyncListener observes a media element's seek outcomes: the frame asked
// for, the frame the element was on, and the frame it settled on. Feeds the
// syncToFrame diagnostics event.
type SyncListener func(layer string, requested, actual, resolved float64)

// Element is a simulated media element: an independent clock with an
// asynchronous, cancellable seek, standing in for a platform audio/video
// element. Seeks take seekLatency of wall time, which is what makes
// supersession of in-flight seeks observable.
type Element struct {
	layer   string
	latency time.Duration
	onSync  SyncListener

	mu      sync.Mutex
	playing bool
	frame   float64
	volume  float64
	muted   bool
	closed  bool
}

// NewElement creates a paused element at frame zero.
func NewElement(layer string, latency time.Duration, onSync SyncListener) *Element {
	return &Element{layer: layer, latency: latency, onSync: onSync, volume: 1}
}

// SeekTo moves the element clock. It blocks for the element's seek latency
// or until the context is cancelled.
func (e *Element) SeekTo(ctx context.Context, frame float64) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("media element %s: seek after close", e.layer)
	}
	actual := e.frame
	e.mu.Unlock()

	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	resolved := math.Round(frame)
	e.mu.Lock()
	e.frame = resolved
	e.mu.Unlock()
	if e.onSync != nil {
		e.onSync(e.layer, frame, actual, resolved)
	}
	return nil
}

// Play starts the element clock.
func (e *Element) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("media element %s: play after close", e.layer)
	}
	e.playing = true
	return nil
}

// Pause stops the element clock.
func (e *Element) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

// Close releases the element.
func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.playing = false
	return nil
}

// Frame returns the element's current frame.
func (e *Element) Frame() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// Playing reports whether the element clock runs.
func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// SetVolume applies the enveloped volume for the current frame.
func (e *Element) SetVolume(v float64, muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	e.muted = muted
}

// Volume returns the effective volume, zero when muted.
func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.muted {
		return 0
	}
	return e.volume
}
