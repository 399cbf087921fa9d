package manifest

import (
	"encoding/json"
	"fmt"
)

// Shape item type tags as used by bodymovin shape layers.
const (
	ShapeGroup        = "gr"
	ShapeFill         = "fl"
	ShapeStroke       = "st"
	ShapeGradientFill = "gf"
	ShapeGradientStr  = "gs"
	ShapeRect         = "rc"
	ShapeEllipse      = "el"
	ShapePath         = "sh"
)

// Shape is one item in a shape layer. Groups nest arbitrarily deep; color
// carrying items (fills, strokes, gradients) are the edit targets.
type Shape struct {
	Type     string          `json:"ty"`
	Name     string          `json:"nm,omitempty"`
	Items    []*Shape        `json:"it,omitempty"`
	Color    *ColorProperty  `json:"c,omitempty"`
	Opacity  json.RawMessage `json:"o,omitempty"`
	Gradient *GradientData   `json:"g,omitempty"`
}

// ColorProperty is an animatable color value. The wire form of k is
// polymorphic: a flat component array when static, a keyframe list when
// animated (a == 1).
type ColorProperty struct {
	Animated  int
	Static    []float64
	Keyframes []ColorKeyframe
}

// ColorKeyframe is one animated color value.
type ColorKeyframe struct {
	Time  float64   `json:"t"`
	Start []float64 `json:"s"`
}

type colorPropertyWire struct {
	Animated int             `json:"a,omitempty"`
	Value    json.RawMessage `json:"k"`
}

func (p *ColorProperty) UnmarshalJSON(data []byte) error {
	var w colorPropertyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Animated = w.Animated
	p.Static = nil
	p.Keyframes = nil
	if len(w.Value) == 0 {
		return nil
	}
	if w.Animated == 1 {
		if err := json.Unmarshal(w.Value, &p.Keyframes); err != nil {
			return fmt.Errorf("animated color keyframes: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(w.Value, &p.Static); err != nil {
		return fmt.Errorf("static color value: %w", err)
	}
	return nil
}

func (p ColorProperty) MarshalJSON() ([]byte, error) {
	w := colorPropertyWire{Animated: p.Animated}
	var err error
	if p.Animated == 1 {
		w.Value, err = json.Marshal(p.Keyframes)
	} else {
		w.Value, err = json.Marshal(p.Static)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// SetRGB rewrites the color components in every form the property carries,
// preserving any alpha component already present.
func (p *ColorProperty) SetRGB(rgb []float64) {
	apply := func(dst []float64) []float64 {
		if len(dst) >= 3 {
			copy(dst[:3], rgb)
			return dst
		}
		out := make([]float64, 3)
		copy(out, rgb)
		return out
	}
	if p.Animated == 1 {
		for i := range p.Keyframes {
			p.Keyframes[i].Start = apply(p.Keyframes[i].Start)
		}
		return
	}
	p.Static = apply(p.Static)
}

// RGB returns the current color components (first keyframe when animated).
func (p *ColorProperty) RGB() []float64 {
	if p.Animated == 1 {
		if len(p.Keyframes) == 0 {
			return nil
		}
		return p.Keyframes[0].Start
	}
	return p.Static
}

// GradientData is the gradient payload of gf/gs items: a stop count and a
// flat [pos, r, g, b, ...] stop array.
type GradientData struct {
	StopCount int           `json:"p"`
	Stops     GradientStops `json:"k"`
}

// GradientStops carries the flat stop values; the animated form is not an
// edit target and round-trips through Raw untouched.
type GradientStops struct {
	Animated int
	Values   []float64
	Raw      json.RawMessage
}

type gradientStopsWire struct {
	Animated int             `json:"a,omitempty"`
	Value    json.RawMessage `json:"k"`
}

func (g *GradientStops) UnmarshalJSON(data []byte) error {
	var w gradientStopsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.Animated = w.Animated
	if w.Animated == 1 {
		g.Raw = w.Value
		return nil
	}
	return json.Unmarshal(w.Value, &g.Values)
}

func (g GradientStops) MarshalJSON() ([]byte, error) {
	w := gradientStopsWire{Animated: g.Animated}
	if g.Animated == 1 {
		w.Value = g.Raw
	} else {
		v, err := json.Marshal(g.Values)
		if err != nil {
			return nil, err
		}
		w.Value = v
	}
	return json.Marshal(w)
}

// EachShape walks the layer's shape tree depth-first, visiting groups before
// their children.
func (l *Layer) EachShape(fn func(*Shape)) {
	var walk func(items []*Shape)
	walk = func(items []*Shape) {
		for _, s := range items {
			fn(s)
			if s.Type == ShapeGroup {
				walk(s.Items)
			}
		}
	}
	walk(l.Shapes)
}
