package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MixerParams controls the progress-weighted logit mix of the pregame and
// in-game models.
type MixerParams struct {
	Curve string  `yaml:"curve"` // linear | quadratic | cubic
	WMin  float64 `yaml:"w_min"`
	WMax  float64 `yaml:"w_max"`
}

// SmootherParams controls the EWMA over successive mixed probabilities.
type SmootherParams struct {
	AlphaBase       float64 `yaml:"alpha_base"`
	AlphaScoreEvent float64 `yaml:"alpha_score_event"`
	ClipMin         float64 `yaml:"clip_min"`
	ClipMax         float64 `yaml:"clip_max"`
}

// ConfidenceParams buckets |p-0.5| + source bonus into high/medium/low.
type ConfidenceParams struct {
	HighThreshold   float64            `yaml:"high_threshold"`
	MediumThreshold float64            `yaml:"medium_threshold"`
	SourceBonus     map[string]float64 `yaml:"source_bonus"`
}

// BullpenParams controls the relief-strength rater.
type BullpenParams struct {
	LookbackDays   int     `yaml:"lookback_days"`
	MinAppearances int     `yaml:"min_app"`
	HalfLifeDays   float64 `yaml:"half_life_days"`
	Metric         string  `yaml:"metric"` // k_minus_bb | fip_proxy
	ZScoreCap      float64 `yaml:"league_zscore_cap"`
}

// AdjusterParams controls the late-inning bullpen adjustment.
type AdjusterParams struct {
	Enable          bool    `yaml:"enable"`
	Beta            float64 `yaml:"beta"`
	MaxShift        float64 `yaml:"max_shift"`
	LateInningCurve string  `yaml:"late_inning_curve"`
}

// ModelParams is the full tunable surface of the engine, loaded from one
// yaml file so model settings version together.
type ModelParams struct {
	Mixer      MixerParams      `yaml:"mixer"`
	Smoother   SmootherParams   `yaml:"smoother"`
	Confidence ConfidenceParams `yaml:"confidence"`
	Bullpen    BullpenParams    `yaml:"bullpen"`
	Adjuster   AdjusterParams   `yaml:"adjuster"`

	// ModelVersion is stamped onto every persisted prediction.
	ModelVersion string `yaml:"model_version"`
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		Mixer: MixerParams{
			Curve: "quadratic",
			WMin:  0.10,
			WMax:  0.95,
		},
		Smoother: SmootherParams{
			AlphaBase:       0.35,
			AlphaScoreEvent: 0.75,
			ClipMin:         0.01,
			ClipMax:         0.99,
		},
		Confidence: ConfidenceParams{
			HighThreshold:   0.25,
			MediumThreshold: 0.10,
			SourceBonus: map[string]float64{
				"official": 0.05,
			},
		},
		Bullpen: BullpenParams{
			LookbackDays:   14,
			MinAppearances: 6,
			HalfLifeDays:   7,
			Metric:         "k_minus_bb",
			ZScoreCap:      2.5,
		},
		Adjuster: AdjusterParams{
			Enable:          true,
			Beta:            0.02,
			MaxShift:        0.03,
			LateInningCurve: "quadratic",
		},
		ModelVersion: "live-mix-v2",
	}
}

// LoadModelParams reads the yaml parameter file, layering it over the
// defaults so a partial file only overrides what it names. A missing file
// is not an error — the defaults are a complete working configuration.
func LoadModelParams(path string) (ModelParams, error) {
	params := DefaultModelParams()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return params, nil
		}
		return params, fmt.Errorf("read model params: %w", err)
	}

	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parse model params %s: %w", path, err)
	}
	return params, nil
}
