package bullpen

import (
	"math"
	"testing"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/model"
)

func TestLateFactorBoundaries(t *testing.T) {
	cases := []struct {
		inning int
		want   float64
	}{
		{1, 0},
		{5, 0},
		{6, 0},
		{9, 1},
		{10, 1},
		{14, 1},
	}
	for _, curve := range []model.Curve{model.CurveLinear, model.CurveQuadratic, model.CurveCubic} {
		for _, tc := range cases {
			if got := LateFactor(tc.inning, curve); got != tc.want {
				t.Errorf("LateFactor(%d, %s) = %v, want %v", tc.inning, curve, got, tc.want)
			}
		}

		// The ramp is strictly between the anchors across the 7th and 8th.
		for inning := 7; inning <= 8; inning++ {
			got := LateFactor(inning, curve)
			if !(got > 0 && got < 1) {
				t.Errorf("LateFactor(%d, %s) = %v, want inside (0,1)", inning, curve, got)
			}
		}
	}
}

func TestLateFactorRampValues(t *testing.T) {
	if got := LateFactor(7, model.CurveLinear); math.Abs(got-1.0/3) > 1e-12 {
		t.Errorf("linear 7th = %v, want 1/3", got)
	}
	if got := LateFactor(8, model.CurveQuadratic); math.Abs(got-4.0/9) > 1e-12 {
		t.Errorf("quadratic 8th = %v, want 4/9", got)
	}
}

func testAdjuster() *Adjuster {
	return NewAdjuster(config.AdjusterParams{
		Enable:          true,
		Beta:            0.02,
		MaxShift:        0.03,
		LateInningCurve: "quadratic",
	})
}

func TestAdjustInactiveBeforeSeventh(t *testing.T) {
	a := testAdjuster()
	for inning := 1; inning <= 6; inning++ {
		if got := a.Adjust(0.6, inning, 2.5, -2.5); got != 0.6 {
			t.Errorf("inning %d: adjust moved p to %v, want untouched", inning, got)
		}
	}
}

func TestAdjustDirectionAndScale(t *testing.T) {
	a := testAdjuster()

	up := a.Adjust(0.6, 9, 0.5, -0.5)
	if math.Abs(up-(0.6+0.02*1)) > 1e-12 {
		t.Errorf("9th with z diff +1 = %v, want 0.62", up)
	}

	down := a.Adjust(0.6, 9, -0.5, 0.5)
	if math.Abs(down-(0.6-0.02*1)) > 1e-12 {
		t.Errorf("9th with z diff -1 = %v, want 0.58", down)
	}
}

func TestAdjustShiftIsHardCapped(t *testing.T) {
	a := testAdjuster()

	// Even absurd z inputs (beyond the rater's own cap) move p at most
	// maxShift in either direction.
	up := a.Adjust(0.5, 9, 10, -10)
	if math.Abs(up-0.53) > 1e-12 {
		t.Errorf("capped up-shift = %v, want 0.53", up)
	}
	down := a.Adjust(0.5, 9, -10, 10)
	if math.Abs(down-0.47) > 1e-12 {
		t.Errorf("capped down-shift = %v, want 0.47", down)
	}
}

func TestAdjustStaysInsideOpenInterval(t *testing.T) {
	a := testAdjuster()
	if got := a.Adjust(0.999999, 9, 10, -10); !(got > 0 && got < 1) {
		t.Errorf("adjust near 1 = %v, escaped (0,1)", got)
	}
	if got := a.Adjust(0.000001, 9, -10, 10); !(got > 0 && got < 1) {
		t.Errorf("adjust near 0 = %v, escaped (0,1)", got)
	}
}

func TestAdjustDisabled(t *testing.T) {
	a := NewAdjuster(config.AdjusterParams{Enable: false, Beta: 0.02, MaxShift: 0.03})
	if got := a.Adjust(0.6, 9, 2.5, -2.5); got != 0.6 {
		t.Errorf("disabled adjuster moved p to %v", got)
	}
}
