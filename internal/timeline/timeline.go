package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPlaybackAborted tags a seek or play request that was superseded by a
// newer one. It is a reason, not a failure: callers log it and move on.
var ErrPlaybackAborted = errors.New("playback aborted")

// MediaTarget is the clock a media-backed timeline drives. Seeks may take
// real time (element buffering); the timeline awaits them and abandons the
// result when a newer seek supersedes it.
type MediaTarget interface {
	SeekTo(ctx context.Context, frame float64) error
	Play(ctx context.Context) error
	Pause() error
	Close() error
}

// Listener receives a phase callback with the node's local time.
type Listener func(ctx context.Context, frame float64) error

type child struct {
	tl     *Timeline
	offset float64
}

type hookEntry struct {
	id int
	fn Listener
}

// Timeline is a hierarchical clock. A node owns its local time and duration;
// children derive local time from the parent time minus their start offset,
// clamped to [0, childDuration].
type Timeline struct {
	mu       sync.Mutex
	target   MediaTarget
	duration float64
	current  float64
	state    State
	parent   *Timeline
	children []child
	hooks    map[Phase][]hookEntry
	nextHook int

	seekGen atomic.Uint64
}

// New creates a ready timeline with the given duration in frames. The target
// may be nil for pure grouping nodes.
func New(duration float64, target MediaTarget) *Timeline {
	return &Timeline{
		target:   target,
		duration: duration,
		state:    StateReady,
		hooks:    make(map[Phase][]hookEntry),
	}
}

// Duration returns the node duration in frames.
func (tl *Timeline) Duration() float64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.duration
}

// CurrentTime returns the node's local time.
func (tl *Timeline) CurrentTime() float64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.current
}

// State returns the node state.
func (tl *Timeline) State() State {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.state
}

// AddTimeline registers a child clock that starts at the given parent offset.
func (tl *Timeline) AddTimeline(c *Timeline, startOffset float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	c.parent = tl
	tl.children = append(tl.children, child{tl: c, offset: startOffset})
}

// RegisterHookCallback adds a phase listener and returns its registration id.
func (tl *Timeline) RegisterHookCallback(p Phase, fn Listener) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.nextHook++
	id := tl.nextHook
	tl.hooks[p] = append(tl.hooks[p], hookEntry{id: id, fn: fn})
	return id
}

// RemoveHookCallback removes a previously registered listener.
func (tl *Timeline) RemoveHookCallback(p Phase, id int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	entries := tl.hooks[p]
	for i, e := range entries {
		if e.id == id {
			tl.hooks[p] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// GoToTime seeks the whole subtree to t and fires every phase in order, each
// on this node and then on its children. Media-backed nodes await their
// element's seek. If a newer GoToTime arrives while this one is still
// resolving, this one returns ErrPlaybackAborted and the newer call's result
// is authoritative; times are written before any await, so no partial state
// is left behind.
func (tl *Timeline) GoToTime(ctx context.Context, t float64) error {
	gen := tl.seekGen.Add(1)
	tl.setTime(t)
	for _, p := range Phases {
		if err := tl.fireSubtree(ctx, p, tl, gen); err != nil {
			return err
		}
	}
	return nil
}

// setTime writes local time through the subtree synchronously. Complete is
// terminal for a playback run; seeking back before the end returns the node
// to stopped.
func (tl *Timeline) setTime(t float64) {
	tl.mu.Lock()
	if t < 0 {
		t = 0
	}
	if t > tl.duration {
		t = tl.duration
	}
	tl.current = t
	switch {
	case t >= tl.duration:
		tl.state = StateComplete
	case tl.state == StateComplete:
		tl.state = StateStopped
	}
	kids := make([]child, len(tl.children))
	copy(kids, tl.children)
	tl.mu.Unlock()

	for _, c := range kids {
		c.tl.setTime(t - c.offset)
	}
}

func (tl *Timeline) superseded(gen uint64) bool {
	return tl.seekGen.Load() != gen
}

// fireSubtree runs one phase on this node, then the target seek when the
// phase is the rendering phase, then the children. The supersession
// generation is owned by the node GoToTime was called on and threaded through
// the subtree.
func (tl *Timeline) fireSubtree(ctx context.Context, p Phase, owner *Timeline, gen uint64) error {
	tl.mu.Lock()
	frame := tl.current
	entries := make([]hookEntry, len(tl.hooks[p]))
	copy(entries, tl.hooks[p])
	target := tl.target
	kids := make([]child, len(tl.children))
	copy(kids, tl.children)
	tl.mu.Unlock()

	for _, e := range entries {
		if owner.superseded(gen) {
			return fmt.Errorf("%s during %s: %w", "seek", p, ErrPlaybackAborted)
		}
		if err := e.fn(ctx, frame); err != nil {
			return err
		}
	}

	if target != nil && p == PhaseRendering {
		if owner.superseded(gen) {
			return fmt.Errorf("media seek: %w", ErrPlaybackAborted)
		}
		if err := target.SeekTo(ctx, frame); err != nil {
			return err
		}
		if owner.superseded(gen) {
			return fmt.Errorf("media seek: %w", ErrPlaybackAborted)
		}
	}

	for _, c := range kids {
		if err := c.tl.fireSubtree(ctx, p, owner, gen); err != nil {
			return err
		}
	}
	return nil
}

// Start marks the subtree playing and starts media targets. It does not
// advance time; the scheduler does that.
func (tl *Timeline) Start(ctx context.Context) error {
	tl.mu.Lock()
	if tl.state == StateDestroyed {
		tl.mu.Unlock()
		return fmt.Errorf("timeline: start after destroy")
	}
	tl.state = StatePlaying
	target := tl.target
	kids := make([]child, len(tl.children))
	copy(kids, tl.children)
	tl.mu.Unlock()

	if target != nil {
		if err := target.Play(ctx); err != nil {
			return err
		}
	}
	for _, c := range kids {
		if err := c.tl.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop marks the subtree stopped and pauses media targets.
func (tl *Timeline) Stop() error {
	tl.mu.Lock()
	if tl.state == StatePlaying {
		tl.state = StateStopped
	}
	target := tl.target
	kids := make([]child, len(tl.children))
	copy(kids, tl.children)
	tl.mu.Unlock()

	var firstErr error
	if target != nil {
		if err := target.Pause(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range kids {
		if err := c.tl.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Destroy detaches the node from its parent, destroys children and releases
// the target.
func (tl *Timeline) Destroy() {
	tl.mu.Lock()
	parent := tl.parent
	tl.parent = nil
	kids := tl.children
	tl.children = nil
	target := tl.target
	tl.target = nil
	tl.state = StateDestroyed
	tl.mu.Unlock()

	if parent != nil {
		parent.detach(tl)
	}
	for _, c := range kids {
		c.tl.mu.Lock()
		c.tl.parent = nil
		c.tl.mu.Unlock()
		c.tl.Destroy()
	}
	if target != nil {
		target.Close()
	}
}

func (tl *Timeline) detach(c *Timeline) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i, k := range tl.children {
		if k.tl == c {
			tl.children = append(tl.children[:i], tl.children[i+1:]...)
			return
		}
	}
}
