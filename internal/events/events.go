// Package events is the typed observable surface of the player. Kinds are a
// closed enumeration and listeners fire synchronously in registration order.
package events

import (
	"sync"
	"time"
)

// Kind enumerates every observable event.
type Kind int

const (
	SetupStart Kind = iota
	SetupEnd
	FrameRenderStart
	FrameRenderEnd
	PlaybackPlay
	PlaybackStop
	PlaybackComplete
	GoToFrameStart
	GoToFrameEnd
	ApplyChangeStart
	ApplyChangeEnd
	ApplyChangeListStart
	ApplyChangeListEnd
	UpdateRealFPS
	SyncToFrame
	LayerSaved
)

func (k Kind) String() string {
	switch k {
	case SetupStart:
		return "setup:start"
	case SetupEnd:
		return "setup:end"
	case FrameRenderStart:
		return "frameRender:start"
	case FrameRenderEnd:
		return "frameRender:end"
	case PlaybackPlay:
		return "playback:play"
	case PlaybackStop:
		return "playback:stop"
	case PlaybackComplete:
		return "playback:complete"
	case GoToFrameStart:
		return "goToFrame:start"
	case GoToFrameEnd:
		return "goToFrame:end"
	case ApplyChangeStart:
		return "applyChange:start"
	case ApplyChangeEnd:
		return "applyChange:end"
	case ApplyChangeListStart:
		return "applyChangeList:start"
	case ApplyChangeListEnd:
		return "applyChangeList:end"
	case UpdateRealFPS:
		return "updateRealFPS"
	case SyncToFrame:
		return "syncToFrame"
	case LayerSaved:
		return "layerSaved"
	}
	return "unknownEvent"
}

// SyncReport describes one media layer's seek outcome, for diagnosing
// audio/video drift.
type SyncReport struct {
	Layer     string
	Requested float64
	Actual    float64
	Resolved  float64
}

// Event is one emitted occurrence. Only the fields relevant to the kind are
// populated.
type Event struct {
	Kind    Kind
	Frame   float64
	FPS     float64
	Elapsed time.Duration
	Layer   string
	Sync    *SyncReport
	Err     error
}

// Listener receives emitted events.
type Listener func(Event)

type entry struct {
	id int
	fn Listener
}

// Emitter dispatches events to per-kind ordered listener lists.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Kind][]entry
	nextID    int
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Kind][]entry)}
}

// On registers a listener for a kind and returns its registration id.
func (e *Emitter) On(k Kind, fn Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[k] = append(e.listeners[k], entry{id: e.nextID, fn: fn})
	return e.nextID
}

// Off removes a listener by registration id.
func (e *Emitter) Off(k Kind, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[k]
	for i, en := range entries {
		if en.id == id {
			e.listeners[k] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit dispatches the event synchronously, in registration order.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	entries := make([]entry, len(e.listeners[ev.Kind]))
	copy(entries, e.listeners[ev.Kind])
	e.mu.Unlock()
	for _, en := range entries {
		en.fn(ev)
	}
}
