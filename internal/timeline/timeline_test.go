package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTarget records media calls; SeekTo can block until released.
type fakeTarget struct {
	mu     sync.Mutex
	seeks  []float64
	played int
	paused int
	closed bool

	block chan struct{}
}

func (f *fakeTarget) SeekTo(ctx context.Context, frame float64) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.seeks = append(f.seeks, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) Play(ctx context.Context) error {
	f.mu.Lock()
	f.played++
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) Pause() error {
	f.mu.Lock()
	f.paused++
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestPhaseOrder(t *testing.T) {
	tl := New(100, nil)

	var fired []Phase
	for _, p := range Phases {
		p := p
		tl.RegisterHookCallback(p, func(ctx context.Context, frame float64) error {
			fired = append(fired, p)
			return nil
		})
	}

	if err := tl.GoToTime(context.Background(), 10); err != nil {
		t.Fatalf("GoToTime failed: %v", err)
	}

	want := []Phase{PhaseBeforeRender, PhasePropertiesRendered, PhaseRendering, PhaseAfterPropertiesRender, PhaseEndRender}
	if len(fired) != len(want) {
		t.Fatalf("Expected %d phases, got %d", len(want), len(fired))
	}
	for i, p := range want {
		if fired[i] != p {
			t.Errorf("Phase %d: expected %s, got %s", i, p, fired[i])
		}
	}
}

func TestParentPhaseBeforeChild(t *testing.T) {
	parent := New(100, nil)
	child := New(50, nil)
	parent.AddTimeline(child, 0)

	var order []string
	parent.RegisterHookCallback(PhaseBeforeRender, func(ctx context.Context, frame float64) error {
		order = append(order, "parent")
		return nil
	})
	child.RegisterHookCallback(PhaseBeforeRender, func(ctx context.Context, frame float64) error {
		order = append(order, "child")
		return nil
	})

	if err := parent.GoToTime(context.Background(), 5); err != nil {
		t.Fatalf("GoToTime failed: %v", err)
	}
	if len(order) != 2 || order[0] != "parent" || order[1] != "child" {
		t.Errorf("Expected parent before child, got %v", order)
	}
}

func TestChildTimeClamped(t *testing.T) {
	parent := New(100, nil)
	child := New(30, nil)
	parent.AddTimeline(child, 20)

	ctx := context.Background()

	// 1. Before the child's window its local time pins to zero
	parent.GoToTime(ctx, 10)
	if got := child.CurrentTime(); got != 0 {
		t.Errorf("Expected child time 0 before window, got %v", got)
	}

	// 2. Inside the window: parent time minus offset
	parent.GoToTime(ctx, 35)
	if got := child.CurrentTime(); got != 15 {
		t.Errorf("Expected child time 15, got %v", got)
	}

	// 3. Past the window: clamped to the child duration
	parent.GoToTime(ctx, 90)
	if got := child.CurrentTime(); got != 30 {
		t.Errorf("Expected child time 30 past window, got %v", got)
	}
	if child.State() != StateComplete {
		t.Errorf("Expected child complete at its end, got %s", child.State())
	}
}

func TestCompleteAndBack(t *testing.T) {
	tl := New(50, nil)
	ctx := context.Background()

	tl.GoToTime(ctx, 50)
	if tl.State() != StateComplete {
		t.Fatalf("Expected complete at duration, got %s", tl.State())
	}

	// Seeking back before the end leaves complete
	tl.GoToTime(ctx, 10)
	if tl.State() != StateStopped {
		t.Errorf("Expected stopped after seeking back, got %s", tl.State())
	}
	if tl.CurrentTime() != 10 {
		t.Errorf("Expected time 10, got %v", tl.CurrentTime())
	}
}

func TestMediaSeekDuringRenderingPhase(t *testing.T) {
	target := &fakeTarget{}
	tl := New(60, target)

	var beforeSeek bool
	tl.RegisterHookCallback(PhasePropertiesRendered, func(ctx context.Context, frame float64) error {
		target.mu.Lock()
		beforeSeek = len(target.seeks) == 0
		target.mu.Unlock()
		return nil
	})

	if err := tl.GoToTime(context.Background(), 12); err != nil {
		t.Fatalf("GoToTime failed: %v", err)
	}
	if !beforeSeek {
		t.Error("Media seek ran before the propertiesRendered phase")
	}
	if len(target.seeks) != 1 || target.seeks[0] != 12 {
		t.Errorf("Expected one seek to 12, got %v", target.seeks)
	}
}

func TestSupersededSeekAborts(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	tl := New(100, target)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- tl.GoToTime(context.Background(), 10)
	}()

	// Wait until the first seek is parked inside the media target
	time.Sleep(20 * time.Millisecond)

	// The newer request supersedes the parked one
	go func() {
		// Unblock the first seek once the generation moved on
		time.Sleep(20 * time.Millisecond)
		close(target.block)
	}()
	if err := tl.GoToTime(context.Background(), 40); err != nil {
		t.Fatalf("Second GoToTime failed: %v", err)
	}

	err := <-firstDone
	if !errors.Is(err, ErrPlaybackAborted) {
		t.Errorf("Expected ErrPlaybackAborted from superseded seek, got %v", err)
	}
	// The newer call's time is authoritative
	if tl.CurrentTime() != 40 {
		t.Errorf("Expected time 40, got %v", tl.CurrentTime())
	}
}

func TestHookRemoval(t *testing.T) {
	tl := New(10, nil)
	calls := 0
	id := tl.RegisterHookCallback(PhaseEndRender, func(ctx context.Context, frame float64) error {
		calls++
		return nil
	})

	ctx := context.Background()
	tl.GoToTime(ctx, 1)
	tl.RemoveHookCallback(PhaseEndRender, id)
	tl.GoToTime(ctx, 2)

	if calls != 1 {
		t.Errorf("Expected 1 call after removal, got %d", calls)
	}
}

func TestStartStopCascade(t *testing.T) {
	parentTarget := &fakeTarget{}
	childTarget := &fakeTarget{}
	parent := New(100, parentTarget)
	child := New(50, childTarget)
	parent.AddTimeline(child, 0)

	ctx := context.Background()
	if err := parent.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if parent.State() != StatePlaying || child.State() != StatePlaying {
		t.Errorf("Expected both playing, got %s / %s", parent.State(), child.State())
	}
	if parentTarget.played != 1 || childTarget.played != 1 {
		t.Errorf("Expected both targets played once, got %d / %d", parentTarget.played, childTarget.played)
	}

	if err := parent.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if parent.State() != StateStopped || child.State() != StateStopped {
		t.Errorf("Expected both stopped, got %s / %s", parent.State(), child.State())
	}
	if parentTarget.paused != 1 || childTarget.paused != 1 {
		t.Errorf("Expected both targets paused once, got %d / %d", parentTarget.paused, childTarget.paused)
	}
}

func TestDestroyDetachesAndCloses(t *testing.T) {
	parent := New(100, nil)
	childTarget := &fakeTarget{}
	child := New(50, childTarget)
	parent.AddTimeline(child, 0)

	child.Destroy()
	if child.State() != StateDestroyed {
		t.Errorf("Expected destroyed, got %s", child.State())
	}
	if !childTarget.closed {
		t.Error("Expected target closed on destroy")
	}

	// The parent no longer cascades into the destroyed child
	parent.GoToTime(context.Background(), 30)
	if child.CurrentTime() != 0 {
		t.Errorf("Destroyed child still receives time: %v", child.CurrentTime())
	}

	if err := child.Start(context.Background()); err == nil {
		t.Error("Expected error starting a destroyed timeline")
	}
}
