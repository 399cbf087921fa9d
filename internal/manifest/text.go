package manifest

// TextData is the animatable text document of a text layer.
type TextData struct {
	Doc TextDocument `json:"d"`
}

// TextDocument holds the text keyframes. A static text layer has exactly one
// keyframe at time zero; an animated one has several.
type TextDocument struct {
	Keyframes []TextKeyframe `json:"k"`
}

// TextKeyframe is one styled text value at a point in time.
type TextKeyframe struct {
	Style TextStyle `json:"s"`
	Time  float64   `json:"t"`
}

// TextStyle mirrors the bodymovin text style record.
type TextStyle struct {
	Text        string    `json:"t"`
	FontFamily  string    `json:"f"`
	FontSize    float64   `json:"s"`
	LineHeight  float64   `json:"lh,omitempty"`
	FillColor   []float64 `json:"fc,omitempty"`
	StrokeColor []float64 `json:"sc,omitempty"`
	Justify     int       `json:"j,omitempty"`
}

// StyleAt returns the text style in effect at the given frame. Keyframes are
// ordered by time; the last keyframe at or before the frame wins.
func (d *TextDocument) StyleAt(frame float64) *TextStyle {
	if len(d.Keyframes) == 0 {
		return nil
	}
	current := &d.Keyframes[0].Style
	for i := range d.Keyframes {
		if d.Keyframes[i].Time <= frame {
			current = &d.Keyframes[i].Style
		}
	}
	return current
}

// EachStyle visits every keyframe style, covering both the static single
// keyframe form and the animated multi-keyframe form.
func (d *TextDocument) EachStyle(fn func(*TextStyle)) {
	for i := range d.Keyframes {
		fn(&d.Keyframes[i].Style)
	}
}
