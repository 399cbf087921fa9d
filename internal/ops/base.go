package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

// layerOp carries the pieces every layer-modifying operation shares.
type layerOp struct {
	env      *Env
	typ      Type
	layerRef string
	assets   []*manifest.Asset
}

func (b *layerOp) Type() Type { return b.typ }
func (b *layerOp) LayerKey() string { return b.layerRef }
func (b *layerOp) AssetsToLoad() []*manifest.Asset { return b.assets }
func (b *layerOp) stash(a *manifest.Asset) { b.assets = append(b.assets, a) }

func (b *layerOp) layer() (*manifest.Layer, error) {
	l := b.env.Manifest.FindLayer(b.layerRef)
	if l == nil {
		return nil, fmt.Errorf("%s: layer %q not found", b.typ, b.layerRef)
	}
	return l, nil
}

// originalLayer resolves the target in the pre-edit manifest clone, for
// edits expressed relative to original values.
func (b *layerOp) originalLayer() *manifest.Layer {
	if b.env.Original == nil {
		return nil
	}
	return b.env.Original.FindLayer(b.layerRef)
}

// syncStage is the default UpdateStage: recreate the target's stage object
// in place from its current manifest state.
func (b *layerOp) syncStage(ctx context.Context, st Stage) error {
	l, err := b.layer()
	if err != nil {
		return err
	}
	return st.SyncLayer(ctx, l)
}

// decodeLayerPayload unmarshals a payload that must name a layer target and
// fails fast with a ValidationError when it does not.
func decodeLayerPayload(typ Type, payload json.RawMessage, dst interface{}) (string, error) {
	if err := json.Unmarshal(payload, dst); err != nil {
		return "", &ValidationError{Op: typ, Field: "payload", Reason: err.Error()}
	}
	var probe struct {
		Layer string `json:"layer"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", &ValidationError{Op: typ, Field: "payload", Reason: err.Error()}
	}
	if probe.Layer == "" {
		return "", &ValidationError{Op: typ, Field: "layer", Reason: "required"}
	}
	return probe.Layer, nil
}
