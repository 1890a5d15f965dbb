package model

import (
	"math"

	"github.com/kfurusawa/winprob/internal/config"
)

// Smoother is an exponentially weighted moving average over successive
// mixed probabilities. A larger alpha right after a scoring event lets the
// estimate jump; the smaller base alpha suppresses flicker from noisy
// feeds between plays.
type Smoother struct {
	alphaBase  float64
	alphaScore float64
	clipMin    float64
	clipMax    float64
}

func NewSmoother(p config.SmootherParams) *Smoother {
	clipMin := p.ClipMin
	clipMax := p.ClipMax
	if clipMin <= 0 {
		clipMin = probEpsilon
	}
	if clipMax >= 1 {
		clipMax = 1 - probEpsilon
	}
	if clipMax < clipMin {
		clipMin, clipMax = clipMax, clipMin
	}
	return &Smoother{
		alphaBase:  clampAlpha(p.AlphaBase),
		alphaScore: clampAlpha(p.AlphaScoreEvent),
		clipMin:    clipMin,
		clipMax:    clipMax,
	}
}

// Smooth folds next into the running average. prev is nil on a game's
// first prediction; the seed passes through (clipped) unchanged.
func (s *Smoother) Smooth(prev *float64, next float64, isScoreEvent bool) float64 {
	if prev == nil {
		return s.clip(next)
	}
	alpha := s.alphaBase
	if isScoreEvent {
		alpha = s.alphaScore
	}
	return s.clip(alpha*next + (1-alpha)**prev)
}

func (s *Smoother) clip(p float64) float64 {
	return math.Max(s.clipMin, math.Min(s.clipMax, p))
}

func clampAlpha(a float64) float64 {
	return math.Max(0, math.Min(1, a))
}

// Prediction confidence tiers.
const (
	PredictionHigh   = "high"
	PredictionMedium = "medium"
	PredictionLow    = "low"
)

// Classifier labels a mixed probability by how far it sits from the coin
// flip, with a per-source trust bonus.
type Classifier struct {
	highThreshold   float64
	mediumThreshold float64
	sourceBonus     map[string]float64
}

func NewClassifier(p config.ConfidenceParams) *Classifier {
	return &Classifier{
		highThreshold:   p.HighThreshold,
		mediumThreshold: p.MediumThreshold,
		sourceBonus:     p.SourceBonus,
	}
}

// Confidence buckets |pMixed-0.5| + sourceBonus against the two thresholds.
func (c *Classifier) Confidence(pMixed float64, source string) string {
	score := math.Abs(pMixed-0.5) + c.sourceBonus[source]
	switch {
	case score >= c.highThreshold:
		return PredictionHigh
	case score >= c.mediumThreshold:
		return PredictionMedium
	default:
		return PredictionLow
	}
}
