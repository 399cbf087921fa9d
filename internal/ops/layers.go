package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ivlev/stagecast/internal/manifest"
)

// dynamicKinds is the fixed set of layer kinds that may be added at runtime.
var dynamicKinds = map[string]manifest.LayerType{
	"text":  manifest.LayerText,
	"image": manifest.LayerImage,
	"video": manifest.LayerVideo,
	"audio": manifest.LayerAudio,
}

type addLayerPayload struct {
	// Layer is the convention-based "#name" id of the new layer.
	Layer string  `json:"layer"`
	Kind  string  `json:"kind"`
	Src   string  `json:"src"`
	Text  string  `json:"text"`
	In    float64 `json:"in"`
	Out   float64 `json:"out"`
}

type addLayerOp struct {
	layerOp
	p addLayerPayload
}

func newAddLayer(env *Env, payload json.RawMessage) (Operation, error) {
	op := &addLayerOp{layerOp: layerOp{env: env, typ: TypeAddLayer}}
	ref, err := decodeLayerPayload(TypeAddLayer, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	if !strings.HasPrefix(op.p.Layer, "#") {
		return nil, &ValidationError{Op: TypeAddLayer, Field: "layer", Reason: "dynamic layers use #name ids"}
	}
	if _, ok := dynamicKinds[op.p.Kind]; !ok {
		return nil, &ValidationError{Op: TypeAddLayer, Field: "kind", Reason: fmt.Sprintf("%q cannot be added dynamically", op.p.Kind)}
	}
	return op, nil
}

func (op *addLayerOp) UpdateManifest(ctx context.Context) error {
	m := op.env.Manifest
	if m.LayerByName(op.p.Layer) != nil {
		return fmt.Errorf("%s: layer %q already exists", op.typ, op.p.Layer)
	}
	ty := dynamicKinds[op.p.Kind]
	out := op.p.Out
	if out == 0 {
		out = m.OutPoint
	}
	l := &manifest.Layer{
		UUID:     manifest.NewLayerUUID(),
		Name:     strings.TrimPrefix(op.p.Layer, "#"),
		HTMLID:   op.p.Layer,
		Type:     ty,
		InPoint:  op.p.In,
		OutPoint: out,
	}
	switch ty {
	case manifest.LayerText:
		l.Text = &manifest.TextData{Doc: manifest.TextDocument{
			Keyframes: []manifest.TextKeyframe{{Style: manifest.TextStyle{Text: op.p.Text, FontSize: 36}}},
		}}
	case manifest.LayerImage, manifest.LayerVideo, manifest.LayerAudio:
		if op.p.Src == "" {
			return &ValidationError{Op: op.typ, Field: "src", Reason: "required for " + op.p.Kind + " layers"}
		}
		op.stash(rebindAsset(op.env, l, op.p.Kind, op.p.Src, 0))
	}
	m.AddLayer(l)
	return nil
}

func (op *addLayerOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

type removeLayerPayload struct {
	Layer string `json:"layer"`
}

type removeLayerOp struct {
	layerOp
	p    removeLayerPayload
	uuid string
}

func newRemoveLayer(env *Env, payload json.RawMessage) (Operation, error) {
	op := &removeLayerOp{layerOp: layerOp{env: env, typ: TypeRemoveLayer}}
	ref, err := decodeLayerPayload(TypeRemoveLayer, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *removeLayerOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	op.uuid = l.UUID
	op.env.Manifest.RemoveLayer(l.UUID)
	return nil
}

func (op *removeLayerOp) UpdateStage(ctx context.Context, st Stage) error {
	if op.uuid == "" {
		return nil
	}
	return st.DropLayer(ctx, op.uuid)
}
