package manifest

import "math"

// Keyframe is one scalar tween point, time in frames.
type Keyframe struct {
	Time  float64 `json:"t"`
	Value float64 `json:"s"`
	Ease  string  `json:"e,omitempty"` // "", "linear" or "easeInOutCubic"
}

// ValueAt interpolates a keyframe list at the given frame. Before the first
// keyframe the first value holds, after the last the last value holds.
func ValueAt(keyframes []Keyframe, frame float64) float64 {
	if len(keyframes) == 0 {
		return 0
	}
	if frame <= keyframes[0].Time {
		return keyframes[0].Value
	}
	last := keyframes[len(keyframes)-1]
	if frame >= last.Time {
		return last.Value
	}

	// Find surrounding keyframes
	var prev, next Keyframe
	for i := 0; i < len(keyframes)-1; i++ {
		if frame >= keyframes[i].Time && frame < keyframes[i+1].Time {
			prev = keyframes[i]
			next = keyframes[i+1]
			break
		}
	}

	timeDelta := next.Time - prev.Time
	if timeDelta == 0 {
		timeDelta = 0.001 // Avoid division by zero
	}
	t := (frame - prev.Time) / timeDelta
	if next.Ease == "easeInOutCubic" {
		t = EaseInOutCubic(t)
	}
	return Lerp(prev.Value, next.Value, t)
}

// Lerp performs linear interpolation between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// EaseInOutCubic applies smooth easing function.
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
