package model

import "math"

// Curve names the shaping function applied to raw game progress.
type Curve string

const (
	CurveLinear    Curve = "linear"
	CurveQuadratic Curve = "quadratic"
	CurveCubic     Curve = "cubic"
)

// ParseCurve falls back to linear for unknown names.
func ParseCurve(s string) Curve {
	switch Curve(s) {
	case CurveQuadratic:
		return CurveQuadratic
	case CurveCubic:
		return CurveCubic
	default:
		return CurveLinear
	}
}

// Progress maps (inning, outs) onto [0,1]: the fraction of a regulation
// nine-inning game completed. Extra innings saturate at 1.
func Progress(inning, outs int) float64 {
	p := (float64(inning-1) + float64(outs)/3.0) / 9.0
	return math.Max(0, math.Min(1, p))
}

// Shape applies the curve to a progress value in [0,1]. All three shapes
// fix shape(0)=0 and shape(1)=1; quadratic and cubic push weight toward
// the late game.
func (c Curve) Shape(p float64) float64 {
	switch c {
	case CurveQuadratic:
		return p * p
	case CurveCubic:
		return p * p * p
	default:
		return p
	}
}
