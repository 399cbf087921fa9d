package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ivlev/stagecast/internal/manifest"
)

// parseHexColor converts "#RRGGBB" (or "RRGGBB") to normalized components.
func parseHexColor(hex string) ([]float64, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		return nil, fmt.Errorf("color %q: want RRGGBB", hex)
	}
	out := make([]float64, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("color %q: %w", hex, err)
		}
		out[i] = float64(v) / 255.0
	}
	return out, nil
}

type colorPayload struct {
	Layer string `json:"layer"`
	Color string `json:"color"`
	// Shape restricts the edit to items with this name; empty hits all
	// matching items in the layer, recursing into nested groups.
	Shape string `json:"shape"`
}

// shapeColorOp rewrites fill or stroke colors through the shape tree.
type shapeColorOp struct {
	layerOp
	p         colorPayload
	rgb       []float64
	shapeType string
}

func newShapeColor(env *Env, typ Type, shapeType string, payload json.RawMessage) (Operation, error) {
	op := &shapeColorOp{layerOp: layerOp{env: env, typ: typ}, shapeType: shapeType}
	ref, err := decodeLayerPayload(typ, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	op.rgb, err = parseHexColor(op.p.Color)
	if err != nil {
		return nil, &ValidationError{Op: typ, Field: "color", Reason: err.Error()}
	}
	return op, nil
}

func newShapeFillColor(env *Env, payload json.RawMessage) (Operation, error) {
	return newShapeColor(env, TypeShapeFillColor, manifest.ShapeFill, payload)
}

func newShapeStrokeColor(env *Env, payload json.RawMessage) (Operation, error) {
	return newShapeColor(env, TypeShapeStrokeColor, manifest.ShapeStroke, payload)
}

func (op *shapeColorOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	touched := 0
	l.EachShape(func(s *manifest.Shape) {
		if s.Type != op.shapeType || s.Color == nil {
			return
		}
		if op.p.Shape != "" && s.Name != op.p.Shape {
			return
		}
		s.Color.SetRGB(op.rgb)
		touched++
	})
	if touched == 0 {
		return fmt.Errorf("%s: layer %q has no %q items to recolor", op.typ, op.layerRef, op.shapeType)
	}
	return nil
}

func (op *shapeColorOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

// textFillColorOp rewrites the fill color of a text layer's style keyframes.
type textFillColorOp struct {
	layerOp
	p   colorPayload
	rgb []float64
}

func newTextFillColor(env *Env, payload json.RawMessage) (Operation, error) {
	op := &textFillColorOp{layerOp: layerOp{env: env, typ: TypeTextFillColor}}
	ref, err := decodeLayerPayload(TypeTextFillColor, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	op.rgb, err = parseHexColor(op.p.Color)
	if err != nil {
		return nil, &ValidationError{Op: TypeTextFillColor, Field: "color", Reason: err.Error()}
	}
	return op, nil
}

func (op *textFillColorOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if l.Text == nil {
		return fmt.Errorf("%s: layer %q has no text data", op.typ, op.layerRef)
	}
	l.Text.Doc.EachStyle(func(s *manifest.TextStyle) {
		fc := make([]float64, 3)
		copy(fc, op.rgb)
		s.FillColor = fc
	})
	return nil
}

func (op *textFillColorOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}
