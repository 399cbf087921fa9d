package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

type gradientPayload struct {
	Layer string `json:"layer"`
	Step  int    `json:"step"` // primary stop index: 0 = start, 1 = next, ...
	Color string `json:"color"`
	Shape string `json:"shape"`
}

// shapeGradientFillColorOp recolors one primary gradient stop. When the stop
// array carries midpoint stops between the primaries, the midpoints adjacent
// to the edited step are recomputed by linear interpolation so they stay on
// the straight line between their neighbors.
type shapeGradientFillColorOp struct {
	layerOp
	p   gradientPayload
	rgb []float64
}

func newShapeGradientFillColor(env *Env, payload json.RawMessage) (Operation, error) {
	op := &shapeGradientFillColorOp{layerOp: layerOp{env: env, typ: TypeShapeGradientFillColor}}
	ref, err := decodeLayerPayload(TypeShapeGradientFillColor, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	if op.p.Step < 0 {
		return nil, &ValidationError{Op: TypeShapeGradientFillColor, Field: "step", Reason: "must not be negative"}
	}
	op.rgb, err = parseHexColor(op.p.Color)
	if err != nil {
		return nil, &ValidationError{Op: TypeShapeGradientFillColor, Field: "color", Reason: err.Error()}
	}
	return op, nil
}

func (op *shapeGradientFillColorOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	touched := 0
	var applyErr error
	l.EachShape(func(s *manifest.Shape) {
		if applyErr != nil {
			return
		}
		if s.Type != manifest.ShapeGradientFill && s.Type != manifest.ShapeGradientStr {
			return
		}
		if s.Gradient == nil || s.Gradient.Stops.Animated == 1 {
			return
		}
		if op.p.Shape != "" && s.Name != op.p.Shape {
			return
		}
		if err := recolorGradientStep(s.Gradient, op.p.Step, op.rgb); err != nil {
			applyErr = fmt.Errorf("%s: layer %q: %w", op.typ, op.layerRef, err)
			return
		}
		touched++
	})
	if applyErr != nil {
		return applyErr
	}
	if touched == 0 {
		return fmt.Errorf("%s: layer %q has no gradient items to recolor", op.typ, op.layerRef)
	}
	return nil
}

func (op *shapeGradientFillColorOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}

// recolorGradientStep writes rgb into the primary stop `step` of a flat
// [pos, r, g, b]×count stop array. With 2s-1 stops for s primaries the odd
// indices are midpoints; the ones next to the edited primary are re-derived
// from their surrounding primaries at the midpoint's own position.
func recolorGradientStep(g *manifest.GradientData, step int, rgb []float64) error {
	const stride = 4
	count := g.StopCount
	if count == 0 {
		count = len(g.Stops.Values) / stride
	}
	if count*stride > len(g.Stops.Values) {
		return fmt.Errorf("gradient stop array too short: %d values for %d stops", len(g.Stops.Values), count)
	}

	hasMidpoints := count >= 3 && count%2 == 1
	primaries := count
	if hasMidpoints {
		primaries = (count + 1) / 2
	}
	if step >= primaries {
		return fmt.Errorf("gradient step %d out of range (%d steps)", step, primaries)
	}

	stopIndex := step
	if hasMidpoints {
		stopIndex = step * 2
	}
	writeStop(g.Stops.Values, stopIndex, rgb)

	if !hasMidpoints {
		return nil
	}
	for _, mid := range []int{stopIndex - 1, stopIndex + 1} {
		if mid <= 0 || mid >= count-1 {
			continue
		}
		lo, hi := mid-1, mid+1
		loPos := g.Stops.Values[lo*stride]
		hiPos := g.Stops.Values[hi*stride]
		midPos := g.Stops.Values[mid*stride]
		span := hiPos - loPos
		t := 0.5
		if span != 0 {
			t = (midPos - loPos) / span
		}
		for c := 1; c < stride; c++ {
			g.Stops.Values[mid*stride+c] = manifest.Lerp(g.Stops.Values[lo*stride+c], g.Stops.Values[hi*stride+c], t)
		}
	}
	return nil
}

func writeStop(values []float64, stop int, rgb []float64) {
	const stride = 4
	for c := 0; c < 3; c++ {
		values[stop*stride+1+c] = rgb[c]
	}
}
