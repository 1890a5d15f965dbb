package model

import (
	"math"

	"github.com/kfurusawa/winprob/internal/core/state"
)

// Poisson state model: each team's future runs follow an independent
// Poisson process over its remaining offensive innings. The split of the
// league scoring rate between the teams is calibrated so that a
// full-game projection from a 0-0 start matches the pregame probability
// exactly; the live score, base-out situation, and remaining innings do
// the rest. The only fixed parameter is the league total scoring rate.

const (
	// Combined runs per inning for both teams (league average ~8.4 per game).
	totalRunsPerInning = 8.4 / 9.0
	poissonMaxRuns     = 15
)

var logFact [poissonMaxRuns + 1]float64

func init() {
	for i := 1; i <= poissonMaxRuns; i++ {
		logFact[i] = logFact[i-1] + math.Log(float64(i))
	}
}

// runExpectancy is the expected-runs table for the remainder of a half
// inning, indexed [basesMask][outs]. Standard RE24 values.
var runExpectancy = [8][3]float64{
	{0.49, 0.26, 0.10}, // empty
	{0.85, 0.51, 0.22}, // 1B
	{1.10, 0.66, 0.32}, // 2B
	{1.44, 0.90, 0.43}, // 1B+2B
	{1.35, 0.95, 0.35}, // 3B
	{1.78, 1.13, 0.48}, // 1B+3B
	{1.96, 1.39, 0.56}, // 2B+3B
	{2.29, 1.54, 0.75}, // loaded
}

func poissPMF(mu float64, k int) float64 {
	if mu <= 0 {
		if k == 0 {
			return 1.0
		}
		return 0.0
	}
	return math.Exp(float64(k)*math.Log(mu) - mu - logFact[k])
}

// poissonWinProb computes P(home wins) given expected future runs for each
// side, the current home lead, and the share of a hypothetical extra-innings
// coin flip credited to the home side.
func poissonWinProb(muHome, muAway float64, lead int, tieShare float64) float64 {
	var pWin, pTie float64
	for x := 0; x <= poissonMaxRuns; x++ {
		px := poissPMF(muHome, x)
		for y := 0; y <= poissonMaxRuns; y++ {
			final := lead + x - y
			py := poissPMF(muAway, y)
			if final > 0 {
				pWin += px * py
			} else if final == 0 {
				pTie += px * py
			}
		}
	}
	return pWin + tieShare*pTie
}

// StateProbability is the in-game state model: P(home wins) from the
// current committed state and the pregame home probability used only to
// calibrate the relative scoring rates.
func StateProbability(gs state.GameState, pregame float64) float64 {
	if gs.Decided() {
		return ClampProb(1)
	}

	pregame = ClampProb(pregame)
	share := findScoringShare(pregame)
	return ClampProb(winProbForShare(share, gs))
}

// winProbForShare projects the game forward assuming the home team owns
// `share` of the total scoring rate.
func winProbForShare(share float64, gs state.GameState) float64 {
	homeRate := totalRunsPerInning * share
	awayRate := totalRunsPerInning * (1 - share)

	fullRemaining := float64(9 - gs.Inning)
	if fullRemaining < 0 {
		fullRemaining = 0
	}

	var muHome, muAway float64
	if gs.Half == state.TopHalf {
		// Away is batting: rest of this half from the RE table, scaled to
		// its calibrated rate; home still has this inning's bottom.
		muAway = awayRate*fullRemaining + scaledRE(gs, 1-share)
		muHome = homeRate * (fullRemaining + 1)
	} else {
		muAway = awayRate * fullRemaining
		muHome = homeRate*fullRemaining + scaledRE(gs, share)
	}

	return poissonWinProb(muHome, muAway, gs.Lead(), share)
}

// scaledRE is the batting side's expected runs for the rest of the current
// half inning: the league-average table entry scaled by how much of the
// league rate the side owns (share/0.5).
func scaledRE(gs state.GameState, share float64) float64 {
	bases := gs.Bases
	if bases < 0 || bases > 7 {
		bases = 0
	}
	outs := gs.Outs
	if outs < 0 || outs > 2 {
		outs = 0
	}
	return runExpectancy[bases][outs] * (share / 0.5)
}

// findScoringShare binary-searches for the home share of the total scoring
// rate such that a full-game projection from the opening state matches the
// pregame probability.
func findScoringShare(pregame float64) float64 {
	opening := state.GameState{Inning: 1, Half: state.TopHalf}
	lo, hi := 0.01, 0.99
	for i := 0; i < 50; i++ {
		mid := (lo + hi) / 2
		if winProbForShare(mid, opening) < pregame {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
