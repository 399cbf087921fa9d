// Package player is the playback controller: it owns the manifest, the
// timeline tree, the scheduler and the edit pipeline, and exposes the public
// surface of the engine.
package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/stagecast/internal/assets"
	"github.com/ivlev/stagecast/internal/async"
	"github.com/ivlev/stagecast/internal/config"
	"github.com/ivlev/stagecast/internal/events"
	"github.com/ivlev/stagecast/internal/manifest"
	"github.com/ivlev/stagecast/internal/ops"
	"github.com/ivlev/stagecast/internal/pipeline"
	"github.com/ivlev/stagecast/internal/scheduler"
	"github.com/ivlev/stagecast/internal/stage"
	"github.com/ivlev/stagecast/internal/system"
	"github.com/ivlev/stagecast/internal/timeline"
)

// ErrNotSetup reports a call that needs a composition before Setup ran.
var ErrNotSetup = errors.New("player: not set up")

// Player drives one composition. Every externally invoked async entry point
// is deduplicated: overlapping calls to the same method share one run.
type Player struct {
	cfg     *config.Config
	log     zerolog.Logger
	fetcher assets.Fetcher
	emitter *events.Emitter
	gate    async.Gate

	// opMu serializes playback-state transitions, so Stop observes an
	// in-flight Play before acting and GoToFrame's stop/seek/restart is
	// atomic with respect to both.
	opMu sync.Mutex

	mu         sync.Mutex
	m          *manifest.Manifest
	original   *manifest.Manifest
	root       *timeline.Timeline
	st         *stage.Stage
	loader     *assets.Loader
	pipe       *pipeline.Pipeline
	ticker     *scheduler.Ticker
	current    float64
	tickCancel context.CancelFunc
	lastSample time.Time

	isSetup       atomic.Bool
	isPlaying     atomic.Bool
	isLoading     atomic.Bool
	audioUnlocked atomic.Bool
}

// New creates an idle player. A nil fetcher gets the default http+file
// fetcher rooted at the configured asset root.
func New(cfg *config.Config, fetcher assets.Fetcher, log zerolog.Logger) *Player {
	if cfg == nil {
		cfg, _ = config.Load("")
	}
	if fetcher == nil {
		fetcher = assets.HTTPFetcher{Files: assets.FileFetcher{Root: cfg.Loader.AssetRoot}}
	}
	return &Player{
		cfg:     cfg,
		log:     log,
		fetcher: fetcher,
		emitter: events.NewEmitter(),
	}
}

// On registers an event listener; Off removes it.
func (p *Player) On(k events.Kind, fn events.Listener) int { return p.emitter.On(k, fn) }
func (p *Player) Off(k events.Kind, id int) { p.emitter.Off(k, id) }

func (p *Player) emit(ev events.Event) { p.emitter.Emit(ev) }

// Derived read-only state.
func (p *Player) IsSetup() bool { return p.isSetup.Load() }
func (p *Player) IsPlaying() bool { return p.isPlaying.Load() }
func (p *Player) IsLoading() bool { return p.isLoading.Load() }

// Duration is the last fully visible frame of the composition.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		return 0
	}
	return p.m.Duration()
}

// CurrentTime is the current frame.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) setCurrent(frame float64) {
	p.mu.Lock()
	p.current = frame
	p.mu.Unlock()
}

// Stage exposes the live scene graph (pixmap access for hosts and tests).
func (p *Player) Stage() *stage.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

// Manifest returns the live document.
func (p *Player) Manifest() *manifest.Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

// Setup loads a manifest, builds the timeline tree and the stage, applies
// the initial change list and renders frame zero. Overlapping calls share
// one run.
func (p *Player) Setup(ctx context.Context, manifestJSON []byte, initial []pipeline.Descriptor) error {
	return p.gate.Do("setup", func() error {
		p.emit(events.Event{Kind: events.SetupStart})
		err := p.setup(ctx, manifestJSON, initial)
		p.emit(events.Event{Kind: events.SetupEnd, Err: err})
		return err
	})
}

func (p *Player) setup(ctx context.Context, manifestJSON []byte, initial []pipeline.Descriptor) error {
	if p.isSetup.Load() {
		p.teardown()
	}

	m, err := manifest.Parse(manifestJSON)
	if err != nil {
		return err
	}
	original := m.Clone()

	loader, err := assets.New(p.fetcher, p.cfg.Loader.CacheEntries, p.cfg.Loader.DocumentDPI, p.log)
	if err != nil {
		return err
	}

	st := stage.New(m, loader, p.log)
	st.SetSeekLatency(p.cfg.Playback.SeekLatency)
	st.SetSyncListener(func(layer string, requested, actual, resolved float64) {
		p.emit(events.Event{Kind: events.SyncToFrame, Layer: layer, Sync: &events.SyncReport{
			Layer:     layer,
			Requested: requested,
			Actual:    actual,
			Resolved:  resolved,
		}})
	})

	env := &ops.Env{Manifest: m, Original: original, Log: p.log}
	pipe := pipeline.New(env, loader, st, pipeline.Hooks{
		OnApplied: func(op ops.Operation) {
			if ops.IsAudio(op.Type()) {
				p.emit(events.Event{Kind: events.LayerSaved, Layer: op.LayerKey()})
			}
		},
	}, p.log)

	root := timeline.New(m.Duration(), nil)
	root.RegisterHookCallback(timeline.PhaseBeforeRender, func(ctx context.Context, frame float64) error {
		st.SetFrame(frame)
		return nil
	})
	root.RegisterHookCallback(timeline.PhaseRendering, func(ctx context.Context, frame float64) error {
		return st.Render(ctx)
	})

	// Mount every layer on the stage, collect referenced assets, and hang a
	// child clock under the root for each media layer.
	var preload []*manifest.Asset
	for _, l := range m.LayerList() {
		if err := st.SyncLayer(ctx, l); err != nil {
			return err
		}
		if l.RefID != "" {
			if a := m.AssetByID(l.RefID); a != nil {
				preload = append(preload, a)
			}
		}
		if l.Type.IsMedia() {
			child := timeline.New(l.OutPoint-l.InPoint, st.Target(l.UUID))
			root.AddTimeline(child, l.InPoint)
		}
	}
	if len(preload) > 0 {
		if err := loader.Load(ctx, preload); err != nil {
			return err
		}
	}

	ticker := scheduler.New(scheduler.Config{
		Framerate:    m.Framerate,
		CurrentFrame: p.CurrentTime,
		Duration:     func() float64 { return m.Duration() },
		Seek:         p.tickSeek,
		OnComplete:   p.handleComplete,
		OnMeasure:    p.handleMeasure,
		OnError: func(err error) {
			p.log.Warn().Err(err).Msg("scheduled seek failed")
		},
	})

	p.mu.Lock()
	p.m = m
	p.original = original
	p.loader = loader
	p.st = st
	p.pipe = pipe
	p.root = root
	p.ticker = ticker
	p.current = 0
	p.mu.Unlock()

	if len(initial) > 0 {
		if err := pipe.ApplyChangeList(ctx, initial, pipeline.Options{ShouldUpdateStage: false}); err != nil {
			return err
		}
		// Re-sync: the initial changes may have added layers or rebound
		// assets before the first render.
		for _, l := range m.LayerList() {
			if err := st.SyncLayer(ctx, l); err != nil {
				return err
			}
		}
	}

	if err := root.GoToTime(ctx, 0); err != nil && !errors.Is(err, timeline.ErrPlaybackAborted) {
		return err
	}
	p.isSetup.Store(true)
	return nil
}

func (p *Player) teardown() {
	p.opMu.Lock()
	p.stopLocked(context.Background())
	p.opMu.Unlock()

	p.mu.Lock()
	root := p.root
	p.root = nil
	p.m = nil
	p.original = nil
	p.st = nil
	p.pipe = nil
	p.ticker = nil
	p.mu.Unlock()

	if root != nil {
		root.Destroy()
	}
	p.isSetup.Store(false)
}

// Destroy releases the composition.
func (p *Player) Destroy() {
	p.teardown()
}

func (p *Player) parts() (*manifest.Manifest, *timeline.Timeline, *stage.Stage, *pipeline.Pipeline, *scheduler.Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m, p.root, p.st, p.pipe, p.ticker
}

// Play starts playback. The audio unlock resolves first (idempotent,
// single-flight); a PlaybackAborted rejection from a concurrent seek is
// swallowed, anything else propagates. The scheduler only starts once the
// timeline's own start has resolved.
func (p *Player) Play(ctx context.Context) error {
	return p.gate.Do("play", func() error {
		p.opMu.Lock()
		defer p.opMu.Unlock()
		return p.playLocked(ctx)
	})
}

func (p *Player) playLocked(ctx context.Context) error {
	if !p.isSetup.Load() {
		return ErrNotSetup
	}
	if p.isPlaying.Load() {
		return nil
	}
	if err := p.unlockAudio(ctx); err != nil {
		return err
	}

	_, root, _, _, ticker := p.parts()
	if err := root.Start(ctx); err != nil {
		if !errors.Is(err, timeline.ErrPlaybackAborted) {
			return err
		}
		p.log.Debug().Err(err).Msg("timeline start superseded, continuing")
	}

	ticker.Reset()
	tickCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.tickCancel = cancel
	p.mu.Unlock()
	go ticker.Run(tickCtx, p.cfg.Playback.TickInterval)

	p.isPlaying.Store(true)
	p.emit(events.Event{Kind: events.PlaybackPlay, Frame: p.CurrentTime()})
	return nil
}

// Stop halts playback. It waits for an in-flight Play to resolve first.
func (p *Player) Stop(ctx context.Context) error {
	return p.gate.Do("stop", func() error {
		p.opMu.Lock()
		defer p.opMu.Unlock()
		return p.stopLocked(ctx)
	})
}

func (p *Player) stopLocked(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.tickCancel
	p.tickCancel = nil
	root := p.root
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	wasPlaying := p.isPlaying.Swap(false)
	if root != nil {
		if err := root.Stop(); err != nil {
			return err
		}
	}
	if wasPlaying {
		p.emit(events.Event{Kind: events.PlaybackStop, Frame: p.CurrentTime()})
	}
	return nil
}

// GoToFrame seeks to frame n, clamped to [0, duration]. Playback is
// unconditionally stopped first — seek strategy differs between the playing
// and stopped states, and normalizing to stopped avoids the combinatorial
// cases — then restarted if it was running.
func (p *Player) GoToFrame(ctx context.Context, n float64) error {
	return p.gate.Do("goToFrame", func() error {
		p.opMu.Lock()
		defer p.opMu.Unlock()

		if !p.isSetup.Load() {
			return ErrNotSetup
		}
		frame := manifest.Clamp(math.Round(n), 0, p.Duration())
		p.emit(events.Event{Kind: events.GoToFrameStart, Frame: frame})

		wasPlaying := p.isPlaying.Load()
		if err := p.stopLocked(ctx); err != nil {
			return err
		}

		err := p.seekTo(ctx, frame)
		if err != nil {
			return err
		}

		_, _, st, _, _ := p.parts()
		if err := st.Render(ctx); err != nil {
			return err
		}

		if wasPlaying {
			if err := p.playLocked(ctx); err != nil {
				return err
			}
		}
		p.emit(events.Event{Kind: events.GoToFrameEnd, Frame: frame})
		return nil
	})
}

// seekTo writes the current frame and resolves the whole timeline subtree
// there. A superseded seek resolves as a no-op.
func (p *Player) seekTo(ctx context.Context, frame float64) error {
	_, root, _, _, _ := p.parts()
	if root == nil {
		return ErrNotSetup
	}
	p.setCurrent(frame)
	p.emit(events.Event{Kind: events.FrameRenderStart, Frame: frame})
	start := time.Now()
	err := root.GoToTime(ctx, frame)
	if err != nil {
		if errors.Is(err, timeline.ErrPlaybackAborted) {
			p.log.Debug().Float64("frame", frame).Msg("seek superseded")
			err = nil
		} else {
			p.emit(events.Event{Kind: events.FrameRenderEnd, Frame: frame, Err: err})
			return err
		}
	}
	p.emit(events.Event{Kind: events.FrameRenderEnd, Frame: frame, Elapsed: time.Since(start)})
	return nil
}

// tickSeek is the scheduler's per-tick advance.
func (p *Player) tickSeek(ctx context.Context, frame float64) error {
	return p.seekTo(ctx, frame)
}

func (p *Player) handleComplete(ctx context.Context) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.stopLocked(ctx); err != nil {
		p.log.Warn().Err(err).Msg("stop at completion failed")
	}
	p.emit(events.Event{Kind: events.PlaybackComplete, Frame: p.CurrentTime()})
}

func (p *Player) handleMeasure(fps float64, seekElapsed time.Duration) {
	p.emit(events.Event{Kind: events.UpdateRealFPS, FPS: fps, Elapsed: seekElapsed})

	// CPU sampling is comparatively expensive; throttle to once a second.
	p.mu.Lock()
	due := time.Since(p.lastSample) > time.Second
	if due {
		p.lastSample = time.Now()
	}
	p.mu.Unlock()
	if due {
		snap := system.Sample()
		p.log.Debug().
			Float64("fps", fps).
			Dur("seek", seekElapsed).
			Float64("cpu", snap.CPUPercent).
			Uint64("rss", snap.RSSBytes).
			Int("goroutines", snap.Goroutines).
			Msg("playback diagnostics")
	}
}

// unlockAudio resolves the gesture-gated audio primitives once per
// composition. Single-flight: concurrent plays share one unlock.
func (p *Player) unlockAudio(ctx context.Context) error {
	if p.audioUnlocked.Load() {
		return nil
	}
	return p.gate.Do("unlockAudio", func() error {
		if p.audioUnlocked.Load() {
			return nil
		}
		if err := p.LoadMediaHandlers(ctx); err != nil {
			return err
		}
		p.audioUnlocked.Store(true)
		return nil
	})
}

// LoadMediaHandlers primes every media layer's element so later play calls
// do not hit the gesture gate. Overlapping calls share one run.
func (p *Player) LoadMediaHandlers(ctx context.Context) error {
	return p.gate.Do("loadMediaHandlers", func() error {
		m, _, st, _, _ := p.parts()
		if m == nil || st == nil {
			return ErrNotSetup
		}
		for _, l := range m.LayerList() {
			if !l.Type.IsMedia() {
				continue
			}
			el := st.Element(l.UUID)
			if el == nil {
				continue
			}
			// Priming is a play/pause pair, mirroring how platform elements
			// are unlocked inside a user gesture.
			if err := el.Play(ctx); err != nil {
				return err
			}
			if err := el.Pause(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyChange applies one edit descriptor. Overlapping calls share one run.
func (p *Player) ApplyChange(ctx context.Context, typ ops.Type, payload []byte, opt pipeline.Options) error {
	return p.gate.Do("applyChange", func() error {
		_, _, _, pipe, _ := p.parts()
		if pipe == nil {
			return ErrNotSetup
		}
		p.isLoading.Store(true)
		defer p.isLoading.Store(false)
		p.emit(events.Event{Kind: events.ApplyChangeStart})
		err := pipe.ApplyChange(ctx, typ, payload, opt)
		p.emit(events.Event{Kind: events.ApplyChangeEnd, Err: err})
		return err
	})
}

// ApplyChangeList applies a batch of edit descriptors. Overlapping calls
// share one run.
func (p *Player) ApplyChangeList(ctx context.Context, changes []pipeline.Descriptor, opt pipeline.Options) error {
	return p.gate.Do("applyChangeList", func() error {
		_, _, _, pipe, _ := p.parts()
		if pipe == nil {
			return ErrNotSetup
		}
		p.isLoading.Store(true)
		defer p.isLoading.Store(false)
		p.emit(events.Event{Kind: events.ApplyChangeListStart})
		err := pipe.ApplyChangeList(ctx, changes, opt)
		p.emit(events.Event{Kind: events.ApplyChangeListEnd, Err: err})
		return err
	})
}
