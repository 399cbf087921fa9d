// Package stage is the live scene graph: a software compositor plus
// simulated media elements. It implements the collaborator surface the edit
// pipeline and timeline drive; pixel-exact rasterization is not its job.
package stage

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/stagecast/internal/assets"
	"github.com/ivlev/stagecast/internal/manifest"
)

const defaultSeekLatency = 2 * time.Millisecond

type node struct {
	layer   *manifest.Layer
	element *Element
}

// Stage composites the manifest's layers into a pooled RGBA pixmap and owns
// the media elements of audio/video layers.
type Stage struct {
	log    zerolog.Logger
	loader *assets.Loader
	pool   *PixmapPool

	mu          sync.Mutex
	m           *manifest.Manifest
	nodes       map[string]*node
	pix         *image.RGBA
	frame       float64
	seekLatency time.Duration
	onSync      SyncListener

	renders atomic.Int64
}

// New creates a stage for the manifest's dimensions.
func New(m *manifest.Manifest, loader *assets.Loader, log zerolog.Logger) *Stage {
	return &Stage{
		log:         log,
		loader:      loader,
		pool:        NewPixmapPool(),
		m:           m,
		nodes:       make(map[string]*node),
		seekLatency: defaultSeekLatency,
	}
}

// SetSeekLatency overrides the simulated media seek latency.
func (s *Stage) SetSeekLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLatency = d
}

// SetSyncListener installs the syncToFrame diagnostics listener.
func (s *Stage) SetSyncListener(fn SyncListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSync = fn
}

// SetFrame records the frame the next Render draws and evaluates every media
// layer's volume envelope at it, so ducking tweens reach the elements.
func (s *Stage) SetFrame(frame float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	for _, n := range s.nodes {
		if n.element == nil || len(n.layer.VolumeEnvelope) == 0 {
			continue
		}
		n.element.SetVolume(manifest.ValueAt(n.layer.VolumeEnvelope, frame), n.layer.Muted)
	}
}

// SyncLayer creates or recreates a layer's stage object from its current
// manifest state. Safe on both a fresh layer and an existing one.
func (s *Stage) SyncLayer(ctx context.Context, l *manifest.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[l.UUID]
	if n == nil {
		n = &node{}
		s.nodes[l.UUID] = n
	}
	n.layer = l
	if l.Type.IsMedia() && n.element == nil {
		n.element = NewElement(l.UUID, s.seekLatency, s.emitSync)
	}
	if n.element != nil {
		vol := 1.0
		if l.Volume != nil {
			vol = *l.Volume
		}
		if len(l.VolumeEnvelope) > 0 {
			vol = manifest.ValueAt(l.VolumeEnvelope, s.frame)
		}
		n.element.SetVolume(vol, l.Muted)
	}
	return nil
}

func (s *Stage) emitSync(layer string, requested, actual, resolved float64) {
	s.mu.Lock()
	fn := s.onSync
	s.mu.Unlock()
	if fn != nil {
		fn(layer, requested, actual, resolved)
	}
}

// DropLayer removes a layer's stage object and closes its media element.
func (s *Stage) DropLayer(ctx context.Context, layerUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[layerUUID]
	if !ok {
		return nil
	}
	delete(s.nodes, layerUUID)
	if n.element != nil {
		return n.element.Close()
	}
	return nil
}

// Element returns a media layer's element, for timeline wiring.
func (s *Stage) Element(layerUUID string) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[layerUUID]
	if !ok {
		return nil
	}
	return n.element
}

// LayerTarget is the timeline-facing clock of a media layer: the element
// behind it, with the layer's content trim and time remap applied to every
// incoming seek. Layer fields are read at seek time, so later edits take
// effect without rewiring the timeline.
type LayerTarget struct {
	s    *Stage
	uuid string
}

// Target returns the playback target for a media layer.
func (s *Stage) Target(layerUUID string) *LayerTarget {
	return &LayerTarget{s: s, uuid: layerUUID}
}

func (t *LayerTarget) parts() (*manifest.Layer, *Element, float64) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n, ok := t.s.nodes[t.uuid]
	if !ok {
		return nil, nil, 0
	}
	return n.layer, n.element, t.s.m.Framerate
}

// SeekTo maps the layer-local frame to a content frame and seeks the element.
func (t *LayerTarget) SeekTo(ctx context.Context, frame float64) error {
	l, el, framerate := t.parts()
	if el == nil {
		return nil
	}
	return el.SeekTo(ctx, contentFrame(l, frame, framerate))
}

// Play starts the element clock.
func (t *LayerTarget) Play(ctx context.Context) error {
	_, el, _ := t.parts()
	if el == nil {
		return nil
	}
	return el.Play(ctx)
}

// Pause stops the element clock.
func (t *LayerTarget) Pause() error {
	_, el, _ := t.parts()
	if el == nil {
		return nil
	}
	return el.Pause()
}

// Close releases the element.
func (t *LayerTarget) Close() error {
	_, el, _ := t.parts()
	if el == nil {
		return nil
	}
	return el.Close()
}

// contentFrame converts a layer-local frame to the element's content frame.
// Remap keyframes carry content times in seconds and take precedence over
// the plain trim offset; the trim window clamps either way.
func contentFrame(l *manifest.Layer, frame, framerate float64) float64 {
	if framerate <= 0 {
		return frame
	}
	switch {
	case len(l.TimeRemap) > 0:
		frame = manifest.ValueAt(l.TimeRemap, frame) * framerate
	case l.ContentTrimStart > 0:
		frame += l.ContentTrimStart * framerate
	}
	if l.ContentTrimDuration > 0 {
		lo := l.ContentTrimStart * framerate
		frame = manifest.Clamp(frame, lo, lo+l.ContentTrimDuration*framerate)
	}
	return frame
}

// RenderCount reports how many full renders ran. The pipeline is specified
// to issue exactly one per batch; tests assert on this.
func (s *Stage) RenderCount() int64 {
	return s.renders.Load()
}

// Pixmap returns the last rendered buffer. Nil before the first render.
func (s *Stage) Pixmap() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pix
}

// Render composites every visible layer at the current frame into a pooled
// pixmap. Layers draw back to front.
func (s *Stage) Render(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounds := image.Rect(0, 0, s.m.Width, s.m.Height)
	next := s.pool.Get(bounds)
	fillRect(next, bounds, color.RGBA{A: 255})

	layers := s.m.LayerList()
	for i := len(layers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			s.pool.Put(next)
			return err
		}
		l := layers[i]
		if l.Hidden || s.frame < l.InPoint || s.frame >= l.OutPoint {
			continue
		}
		s.drawLayer(next, l)
	}

	if s.pix != nil {
		s.pool.Put(s.pix)
	}
	s.pix = next
	s.renders.Add(1)
	return nil
}

func (s *Stage) drawLayer(dst *image.RGBA, l *manifest.Layer) {
	switch l.Type {
	case manifest.LayerSolid:
		rgba, err := solidColor(l.SolidColor)
		if err != nil {
			s.log.Debug().Str("layer", l.UUID).Err(err).Msg("bad solid color")
			return
		}
		w, h := l.SolidWidth, l.SolidHeight
		if w == 0 {
			w = s.m.Width
		}
		if h == 0 {
			h = s.m.Height
		}
		fillRect(dst, image.Rect(0, 0, w, h), rgba)

	case manifest.LayerImage, manifest.LayerVideo:
		img, ok := s.loader.Image(l.RefID)
		if !ok {
			// Asset failed or is still pending; skip rather than fail the
			// whole render.
			return
		}
		s.drawMedia(dst, l, img)

	case manifest.LayerText:
		s.drawText(dst, l)
	}
}

func (s *Stage) drawMedia(dst *image.RGBA, l *manifest.Layer, img image.Image) {
	srcRect := img.Bounds()
	target := dst.Bounds()

	var mp manifest.MediaProperties
	if l.Media != nil {
		mp = *l.Media
	}

	if mp.Crop != nil {
		srcRect = cropRect(srcRect, *mp.Crop)
	}
	if len(mp.BackgroundFill) >= 3 {
		fillRect(dst, target, floatsToColor(mp.BackgroundFill))
	}
	if mp.Padding > 0 && mp.Padding < 0.5 {
		inset := int(mp.Padding * float64(min(target.Dx(), target.Dy())))
		target = target.Inset(inset)
	}

	dstRect := fitRect(srcRect, target, mp.Fit)
	if mp.Zoom > 0 && mp.Zoom != 1 {
		dstRect = zoomRect(dstRect, mp.Zoom)
	}
	xdraw.ApproxBiLinear.Scale(dst, dstRect, img, srcRect, xdraw.Over, nil)
}

func (s *Stage) drawText(dst *image.RGBA, l *manifest.Layer) {
	if l.Text == nil {
		return
	}
	style := l.Text.Doc.StyleAt(s.frame)
	if style == nil || style.Text == "" {
		return
	}
	col := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	if len(style.FillColor) >= 3 {
		col = floatsToColor(style.FillColor)
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 8+basicfont.Face7x13.Ascent),
	}
	d.DrawString(style.Text)
}

// fitRect positions srcRect inside target per the fit mode, adapted from the
// viewport-fitting zoom math used for camera framing.
func fitRect(src, target image.Rectangle, fit string) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	tw, th := float64(target.Dx()), float64(target.Dy())
	if sw == 0 || sh == 0 || tw == 0 || th == 0 {
		return target
	}
	var scale float64
	switch fit {
	case "fill":
		return target
	case "cover":
		scale = max(tw/sw, th/sh)
	default: // contain
		scale = min(tw/sw, th/sh)
	}
	w := int(sw * scale)
	h := int(sh * scale)
	x := target.Min.X + (target.Dx()-w)/2
	y := target.Min.Y + (target.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func zoomRect(r image.Rectangle, zoom float64) image.Rectangle {
	cx, cy := (r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2
	w := int(float64(r.Dx()) * zoom / 2)
	h := int(float64(r.Dy()) * zoom / 2)
	return image.Rect(cx-w, cy-h, cx+w, cy+h)
}

func cropRect(src image.Rectangle, c manifest.Rect) image.Rectangle {
	w, h := float64(src.Dx()), float64(src.Dy())
	out := image.Rect(
		src.Min.X+int(c.X*w),
		src.Min.Y+int(c.Y*h),
		src.Min.X+int((c.X+c.W)*w),
		src.Min.Y+int((c.Y+c.H)*h),
	)
	return out.Intersect(src)
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.SetRGBA(x, y, c)
		}
	}
}

func floatsToColor(rgb []float64) color.RGBA {
	clamp := func(v float64) uint8 {
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	return color.RGBA{R: clamp(rgb[0]), G: clamp(rgb[1]), B: clamp(rgb[2]), A: 255}
}

func solidColor(hex string) (color.RGBA, error) {
	if len(hex) != 7 || hex[0] != '#' {
		return color.RGBA{}, fmt.Errorf("solid color %q: want #RRGGBB", hex)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, err
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
