package bullpen

import (
	"math"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/model"
)

// Adjuster nudges the smoothed win probability toward the team with the
// stronger bullpen. It only wakes up from the 7th inning on — before that
// the starters are still pitching and relief strength is irrelevant —
// and its shift is hard-capped at maxShift no matter how lopsided the
// bullpens are.
type Adjuster struct {
	enable   bool
	beta     float64
	maxShift float64
	curve    model.Curve
}

func NewAdjuster(p config.AdjusterParams) *Adjuster {
	maxShift := p.MaxShift
	if maxShift < 0 {
		maxShift = 0
	}
	return &Adjuster{
		enable:   p.Enable,
		beta:     p.Beta,
		maxShift: maxShift,
		curve:    model.ParseCurve(p.LateInningCurve),
	}
}

// LateFactor is exactly 0 through the 6th inning and exactly 1 from the
// 9th; the curve shapes the ramp across the 7th and 8th.
func LateFactor(inning int, curve model.Curve) float64 {
	if inning <= 6 {
		return 0
	}
	if inning >= 9 {
		return 1
	}
	return curve.Shape(float64(inning-6) / 3.0)
}

// Adjust applies the bounded bullpen shift to p for the given inning.
// zHome and zAway are the capped league z-scores from the Rater.
func (a *Adjuster) Adjust(p float64, inning int, zHome, zAway float64) float64 {
	if !a.enable {
		return p
	}
	shift := a.beta * LateFactor(inning, a.curve) * (zHome - zAway)
	shift = math.Max(-a.maxShift, math.Min(a.maxShift, shift))
	return model.ClampProb(p + shift)
}
