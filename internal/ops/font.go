package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

type fontPropertyPayload struct {
	Layer      string `json:"layer"`
	FontFamily string `json:"fontFamily"`
	FontStyle  string `json:"fontStyle"`

	// FontSize sets an absolute size. FontSizeAdjustment scales the size
	// recorded in the pre-edit manifest: newSize = original * (1 + adj).
	// The adjustment deliberately ignores any size set by earlier edits in
	// the same batch, so reordering family and size edits cannot compound.
	FontSize           *float64 `json:"fontSize"`
	FontSizeAdjustment *float64 `json:"fontSizeAdjustment"`
	LineHeight         *float64 `json:"lineHeight"`
}

type fontPropertyOp struct {
	layerOp
	p fontPropertyPayload
}

func newFontProperty(env *Env, payload json.RawMessage) (Operation, error) {
	op := &fontPropertyOp{layerOp: layerOp{env: env, typ: TypeFontProperty}}
	ref, err := decodeLayerPayload(TypeFontProperty, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *fontPropertyOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if l.Text == nil {
		return fmt.Errorf("%s: layer %q has no text data", op.typ, op.layerRef)
	}

	if op.p.FontFamily != "" {
		asset := &manifest.Asset{
			ID:     manifest.NewAssetID(),
			Kind:   "font",
			Family: op.p.FontFamily,
			Style:  op.p.FontStyle,
		}
		op.env.Manifest.AddAsset(asset)
		op.stash(asset)
		l.Text.Doc.EachStyle(func(s *manifest.TextStyle) {
			s.FontFamily = op.p.FontFamily
		})
	}

	var size *float64
	switch {
	case op.p.FontSize != nil:
		size = op.p.FontSize
	case op.p.FontSizeAdjustment != nil:
		orig := op.originalLayer()
		if orig == nil || orig.Text == nil || len(orig.Text.Doc.Keyframes) == 0 {
			return fmt.Errorf("%s: layer %q has no original font size to adjust", op.typ, op.layerRef)
		}
		v := orig.Text.Doc.Keyframes[0].Style.FontSize * (1 + *op.p.FontSizeAdjustment)
		size = &v
	}
	if size != nil {
		l.Text.Doc.EachStyle(func(s *manifest.TextStyle) {
			s.FontSize = *size
		})
	}

	if op.p.LineHeight != nil {
		l.Text.Doc.EachStyle(func(s *manifest.TextStyle) {
			s.LineHeight = *op.p.LineHeight
		})
	}
	return nil
}

func (op *fontPropertyOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}
