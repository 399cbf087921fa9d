package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

// Ducking defaults. The ramp is in seconds and converted to frames with the
// manifest framerate; the level scales the layer's own volume.
const (
	defaultDuckRampSeconds = 0.5
	defaultDuckLevel       = 0.25
)

type duckingSpec struct {
	// Target names the layer whose audible span the envelope wraps.
	Target      string   `json:"target"`
	Level       *float64 `json:"level"`
	RampSeconds *float64 `json:"rampSeconds"`
}

type layerAudioPayload struct {
	Layer   string       `json:"layer"`
	Muted   *bool        `json:"muted"`
	Volume  *float64     `json:"volume"`
	Ducking *duckingSpec `json:"ducking"`
}

// layerAudioOp sets mute/volume and builds volume-envelope tweens. A ducking
// spec ramps the volume down across the target's start, holds, and ramps
// back up so it recovers right at the target's end.
type layerAudioOp struct {
	layerOp
	p layerAudioPayload
}

func newLayerAudio(env *Env, payload json.RawMessage) (Operation, error) {
	op := &layerAudioOp{layerOp: layerOp{env: env, typ: TypeLayerAudio}}
	ref, err := decodeLayerPayload(TypeLayerAudio, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	if op.p.Ducking != nil && op.p.Ducking.Target == "" {
		return nil, &ValidationError{Op: TypeLayerAudio, Field: "ducking.target", Reason: "required"}
	}
	return op, nil
}

func (op *layerAudioOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if op.p.Muted != nil {
		l.Muted = *op.p.Muted
	}
	if op.p.Volume != nil {
		l.Volume = op.p.Volume
	}
	if op.p.Ducking != nil {
		target := op.env.Manifest.FindLayer(op.p.Ducking.Target)
		if target == nil {
			return fmt.Errorf("%s: ducking target %q not found", op.typ, op.p.Ducking.Target)
		}
		base := 1.0
		if l.Volume != nil {
			base = *l.Volume
		}
		level := defaultDuckLevel
		if op.p.Ducking.Level != nil {
			level = *op.p.Ducking.Level
		}
		ramp := defaultDuckRampSeconds
		if op.p.Ducking.RampSeconds != nil {
			ramp = *op.p.Ducking.RampSeconds
		}
		rampFrames := ramp * op.env.Manifest.Framerate
		l.VolumeEnvelope = buildDuckingEnvelope(base, base*level, target.InPoint, target.OutPoint, rampFrames)
	}
	return nil
}

// buildDuckingEnvelope shapes ramp-down, hold, ramp-up. Times in frames.
func buildDuckingEnvelope(base, ducked, start, end, ramp float64) []manifest.Keyframe {
	if ramp*2 > end-start {
		ramp = (end - start) / 2
	}
	return []manifest.Keyframe{
		{Time: start, Value: base},
		{Time: start + ramp, Value: ducked, Ease: "easeInOutCubic"},
		{Time: end - ramp, Value: ducked},
		{Time: end, Value: base, Ease: "easeInOutCubic"},
	}
}

func (op *layerAudioOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

type remapPoint struct {
	Frame float64 `json:"frame"`
	Time  float64 `json:"time"`
}

type layerVideoPayload struct {
	Layer string `json:"layer"`

	ContentTrimStart    *float64 `json:"contentTrimStart"`
	ContentTrimDuration *float64 `json:"contentTrimDuration"`

	// TimeRemap maps composition frames to source content times.
	TimeRemap []remapPoint `json:"timeRemap"`
}

// layerVideoOp sets content trim and time-remap tweens on a video layer.
type layerVideoOp struct {
	layerOp
	p layerVideoPayload
}

func newLayerVideo(env *Env, payload json.RawMessage) (Operation, error) {
	op := &layerVideoOp{layerOp: layerOp{env: env, typ: TypeLayerVideo}}
	ref, err := decodeLayerPayload(TypeLayerVideo, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	for i := 1; i < len(op.p.TimeRemap); i++ {
		if op.p.TimeRemap[i].Frame < op.p.TimeRemap[i-1].Frame {
			return nil, &ValidationError{Op: TypeLayerVideo, Field: "timeRemap", Reason: "frames must not decrease"}
		}
	}
	return op, nil
}

func (op *layerVideoOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if op.p.ContentTrimStart != nil {
		l.ContentTrimStart = *op.p.ContentTrimStart
	}
	if op.p.ContentTrimDuration != nil {
		l.ContentTrimDuration = *op.p.ContentTrimDuration
	}
	if len(op.p.TimeRemap) > 0 {
		remap := make([]manifest.Keyframe, len(op.p.TimeRemap))
		for i, pt := range op.p.TimeRemap {
			remap[i] = manifest.Keyframe{Time: pt.Frame, Value: pt.Time}
		}
		l.TimeRemap = remap
	}
	if l.PlaybackDuration == 0 && op.env.Manifest.Framerate > 0 {
		l.PlaybackDuration = (l.OutPoint - l.InPoint) / op.env.Manifest.Framerate
	}
	return nil
}

func (op *layerVideoOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}
