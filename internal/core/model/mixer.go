package model

import (
	"math"

	"github.com/kfurusawa/winprob/internal/config"
)

// probEpsilon bounds every probability away from 0 and 1 before a logit
// transform. logit(0) and logit(1) are infinite; everything downstream
// assumes finite log-odds.
const probEpsilon = 1e-6

// maxWMinBias bounds the extra nudge MixWithBias may apply to the floor
// weight, regardless of how loud the external signal is.
const maxWMinBias = 0.10

// Mixer combines the pregame win probability with the in-game state
// probability in logit space. The state model's weight grows with game
// progress: near wMin in the 1st inning, near wMax in the 9th.
//
// Interpolating log-odds rather than probabilities respects the
// multiplicative structure of odds — a plain weighted average drags a
// near-certain input toward 0.5.
type Mixer struct {
	curve Curve
	wMin  float64
	wMax  float64
}

func NewMixer(p config.MixerParams) *Mixer {
	wMin := p.WMin
	wMax := p.WMax
	if wMin < 0 {
		wMin = 0
	}
	if wMax > 1 {
		wMax = 1
	}
	if wMax < wMin {
		wMax = wMin
	}
	return &Mixer{
		curve: ParseCurve(p.Curve),
		wMin:  wMin,
		wMax:  wMax,
	}
}

// Weight returns the state-model weight for a game moment, in [wMin,wMax].
func (m *Mixer) Weight(inning, outs int) float64 {
	return m.weightFrom(m.wMin, inning, outs)
}

func (m *Mixer) weightFrom(wMin float64, inning, outs int) float64 {
	return wMin + (m.wMax-wMin)*m.curve.Shape(Progress(inning, outs))
}

// Mix blends the two probabilities for the given game moment and returns
// the mixed home-win probability plus the state weight used. The result
// is always strictly inside (0,1).
func (m *Mixer) Mix(pPregame, pState float64, inning, outs int) (pMixed, w float64) {
	return m.mix(pPregame, pState, m.Weight(inning, outs))
}

// MixWithBias is Mix with a bounded external nudge to the floor weight —
// e.g. a lineup-strength signal that says the state model deserves more
// (or less) trust early. The curve shape is preserved; only the floor
// moves, and never by more than maxWMinBias.
func (m *Mixer) MixWithBias(pPregame, pState float64, inning, outs int, bias float64) (pMixed, w float64) {
	bias = math.Max(-maxWMinBias, math.Min(maxWMinBias, bias))
	wMin := math.Max(0, math.Min(m.wMax, m.wMin+bias))
	return m.mix(pPregame, pState, m.weightFrom(wMin, inning, outs))
}

func (m *Mixer) mix(pPregame, pState, w float64) (float64, float64) {
	pPregame = ClampProb(pPregame)
	pState = ClampProb(pState)

	z := (1-w)*logit(pPregame) + w*logit(pState)
	return ClampProb(sigmoid(z)), w
}

// ClampProb forces p into [probEpsilon, 1-probEpsilon].
func ClampProb(p float64) float64 {
	if p < probEpsilon {
		return probEpsilon
	}
	if p > 1-probEpsilon {
		return 1 - probEpsilon
	}
	return p
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
