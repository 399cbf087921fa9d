package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

// mediaFraming is the shared crop/fit/zoom/padding surface of image and
// video payloads.
type mediaFraming struct {
	Fit            string         `json:"fit"`
	Crop           *manifest.Rect `json:"crop"`
	Zoom           float64        `json:"zoom"`
	Padding        float64        `json:"padding"`
	BackgroundFill string         `json:"backgroundFill"` // hex
}

func (f *mediaFraming) apply(l *manifest.Layer) error {
	if f.Fit == "" && f.Crop == nil && f.Zoom == 0 && f.Padding == 0 && f.BackgroundFill == "" {
		return nil
	}
	if l.Media == nil {
		l.Media = &manifest.MediaProperties{}
	}
	if f.Fit != "" {
		l.Media.Fit = f.Fit
	}
	if f.Crop != nil {
		l.Media.Crop = f.Crop
	}
	if f.Zoom != 0 {
		l.Media.Zoom = f.Zoom
	}
	if f.Padding != 0 {
		l.Media.Padding = f.Padding
	}
	if f.BackgroundFill != "" {
		rgb, err := parseHexColor(f.BackgroundFill)
		if err != nil {
			return err
		}
		l.Media.BackgroundFill = rgb
	}
	return nil
}

// rebindAsset allocates a fresh asset for the new source and points the
// layer's refId at it. The old asset record stays untouched so other layers
// referencing the old id keep resolving to the old content.
func rebindAsset(env *Env, l *manifest.Layer, kind, src string, page int) *manifest.Asset {
	a := &manifest.Asset{
		ID:       manifest.NewAssetID(),
		Kind:     kind,
		FileName: src,
		Page:     page,
	}
	env.Manifest.AddAsset(a)
	l.RefID = a.ID
	return a
}

// --- legacy single-purpose asset swaps ---------------------------------

type assetSwapPayload struct {
	Layer string `json:"layer"`
	Src   string `json:"src"`
	Page  int    `json:"page"`
}

type assetSwapOp struct {
	layerOp
	p    assetSwapPayload
	kind string
}

func newAssetSwap(env *Env, typ Type, kind string, payload json.RawMessage) (Operation, error) {
	op := &assetSwapOp{layerOp: layerOp{env: env, typ: typ}, kind: kind}
	ref, err := decodeLayerPayload(typ, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	if op.p.Src == "" {
		return nil, &ValidationError{Op: typ, Field: "src", Reason: "required"}
	}
	return op, nil
}

func newImageAsset(env *Env, payload json.RawMessage) (Operation, error) {
	return newAssetSwap(env, TypeImageAsset, "image", payload)
}

func newAudioAsset(env *Env, payload json.RawMessage) (Operation, error) {
	return newAssetSwap(env, TypeAudioAsset, "audio", payload)
}

func (op *assetSwapOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	op.stash(rebindAsset(op.env, l, op.kind, op.p.Src, op.p.Page))
	return nil
}

func (op *assetSwapOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

// --- generic layer-property ops ----------------------------------------

type imageLayerPayload struct {
	Layer string `json:"layer"`
	Src   string `json:"src"`
	Page  int    `json:"page"`
	mediaFraming
}

type imageLayerPropertiesOp struct {
	layerOp
	p imageLayerPayload
}

func newImageLayerProperties(env *Env, payload json.RawMessage) (Operation, error) {
	op := &imageLayerPropertiesOp{layerOp: layerOp{env: env, typ: TypeImageLayerProperties}}
	ref, err := decodeLayerPayload(TypeImageLayerProperties, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *imageLayerPropertiesOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if op.p.Src != "" {
		op.stash(rebindAsset(op.env, l, "image", op.p.Src, op.p.Page))
	}
	if err := op.p.apply(l); err != nil {
		return fmt.Errorf("%s: %w", op.typ, err)
	}
	return nil
}

func (op *imageLayerPropertiesOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

type videoLayerPayload struct {
	Layer string `json:"layer"`
	Src   string `json:"src"`
	mediaFraming

	Muted  *bool    `json:"muted"`
	Volume *float64 `json:"volume"`

	// Trim values in seconds of source content.
	ContentTrimStart    *float64 `json:"contentTrimStart"`
	ContentTrimDuration *float64 `json:"contentTrimDuration"`
	PlaybackDuration    *float64 `json:"playbackDuration"`
}

type videoLayerPropertiesOp struct {
	layerOp
	p videoLayerPayload
}

func newVideoLayerProperties(env *Env, payload json.RawMessage) (Operation, error) {
	op := &videoLayerPropertiesOp{layerOp: layerOp{env: env, typ: TypeVideoLayerProperties}}
	ref, err := decodeLayerPayload(TypeVideoLayerProperties, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *videoLayerPropertiesOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if op.p.Src != "" {
		op.stash(rebindAsset(op.env, l, "video", op.p.Src, 0))
	}
	if err := op.p.apply(l); err != nil {
		return fmt.Errorf("%s: %w", op.typ, err)
	}
	applyMediaPlayback(op.env.Manifest, l, op.p.Muted, op.p.Volume,
		op.p.ContentTrimStart, op.p.ContentTrimDuration, op.p.PlaybackDuration)
	return nil
}

func (op *videoLayerPropertiesOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

type audioLayerPayload struct {
	Layer string `json:"layer"`
	Src   string `json:"src"`

	Muted  *bool    `json:"muted"`
	Volume *float64 `json:"volume"`

	ContentTrimStart    *float64 `json:"contentTrimStart"`
	ContentTrimDuration *float64 `json:"contentTrimDuration"`
	PlaybackDuration    *float64 `json:"playbackDuration"`
}

type audioLayerPropertiesOp struct {
	layerOp
	p audioLayerPayload
}

func newAudioLayerProperties(env *Env, payload json.RawMessage) (Operation, error) {
	op := &audioLayerPropertiesOp{layerOp: layerOp{env: env, typ: TypeAudioLayerProperties}}
	ref, err := decodeLayerPayload(TypeAudioLayerProperties, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *audioLayerPropertiesOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if op.p.Src != "" {
		op.stash(rebindAsset(op.env, l, "audio", op.p.Src, 0))
	}
	applyMediaPlayback(op.env.Manifest, l, op.p.Muted, op.p.Volume,
		op.p.ContentTrimStart, op.p.ContentTrimDuration, op.p.PlaybackDuration)
	return nil
}

func (op *audioLayerPropertiesOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

// applyMediaPlayback writes the shared trim and volume fields. The playback
// duration defaults to the layer's visible span converted to seconds with
// the manifest framerate.
func applyMediaPlayback(m *manifest.Manifest, l *manifest.Layer, muted *bool, volume,
	trimStart, trimDuration, playbackDuration *float64) {

	if muted != nil {
		l.Muted = *muted
	}
	if volume != nil {
		l.Volume = volume
	}
	if trimStart != nil {
		l.ContentTrimStart = *trimStart
	}
	if trimDuration != nil {
		l.ContentTrimDuration = *trimDuration
	}
	switch {
	case playbackDuration != nil:
		l.PlaybackDuration = *playbackDuration
	case l.PlaybackDuration == 0 && m.Framerate > 0:
		l.PlaybackDuration = (l.OutPoint - l.InPoint) / m.Framerate
	}
}
