package impute

import (
	"errors"
	"fmt"
	"time"

	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// ErrMissingGameID is the only unrecoverable imputation failure: without a
// game id there is nothing to attach the update to.
var ErrMissingGameID = errors.New("impute: update has no game id")

// Confidence grades how much of the completed state came from guesses.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceMinimal Confidence = "minimal"
)

// Event hints supplied by the feed parser.
const (
	HintScoreChange  = "score_change"
	HintInningChange = "inning_change"
)

// Result is a completed, range-valid state candidate plus the verdict on
// how trustworthy it is. Callers must check Reliable (or run Validate)
// before feeding the state into probability mixing.
type Result struct {
	State         state.GameState
	Confidence    Confidence
	ImputedFields []string
	Method        string // deepest ladder level that filled anything
	Reliable      bool

	// DerivedIndex is true when the feed supplied no event_index and the
	// caller must assign one from the per-game sequence. Degraded mode:
	// situational fallbacks can collide across distinct true moments.
	DerivedIndex bool
}

// Ladder completes partial updates into full game states using four
// decreasing-confidence strategies. Stateless apart from the injected
// clock; safe for concurrent use.
type Ladder struct {
	clock func() time.Time
}

func NewLadder(clock func() time.Time) *Ladder {
	if clock == nil {
		clock = time.Now
	}
	return &Ladder{clock: clock}
}

// Complete runs the four ladder levels in order, each filling only fields
// still missing:
//
//  1. required minimum — game id mandatory, timestamp defaulted
//  2. context-derived — propagate from prev using event hints
//  3. statistical defaults — population-typical values
//  4. emergency coercion — clamp everything into its valid domain
//
// prev is the last committed state for the game, nil for an unseen game.
func (l *Ladder) Complete(u events.GameStateUpdate, prev *state.GameState) (Result, error) {
	if u.GameID == "" {
		return Result{}, ErrMissingGameID
	}

	now := l.clock()
	var imputed []string
	method := "passthrough"

	gs := state.GameState{GameID: u.GameID}

	// Level 1: required minimum.
	if u.UpdatedAt > 0 {
		gs.Timestamp = time.Unix(u.UpdatedAt, 0).UTC()
	} else {
		gs.Timestamp = now
		imputed = append(imputed, "timestamp")
	}
	gs.Date = u.Date
	gs.Pitcher = u.Pitcher
	gs.Batter = u.Batter
	gs.LastPlay = u.LastPlay

	// Direct fields the update carries explicitly.
	haveInning := u.Inning != nil
	haveHalf := u.Half != nil
	haveOuts := u.Outs != nil
	haveHome := u.HomeScore != nil
	haveAway := u.AwayScore != nil

	if haveInning {
		gs.Inning = *u.Inning
	}
	if haveHalf {
		gs.Half = state.Half(*u.Half)
	}
	if haveOuts {
		gs.Outs = *u.Outs
	}
	if haveHome {
		gs.HomeScore = *u.HomeScore
	}
	if haveAway {
		gs.AwayScore = *u.AwayScore
	}

	basesRaw := u.Bases
	if basesRaw == nil {
		basesRaw = u.Runners
	}
	haveBases := false
	if basesRaw != nil {
		mask, err := NormalizeBases(basesRaw)
		if err != nil {
			telemetry.Warnf("impute: game %s: %v", u.GameID, err)
		} else {
			gs.Bases = mask
			haveBases = true
		}
	}

	if u.EventIndex != nil {
		gs.EventIndex = *u.EventIndex
	}

	// Level 2: context-derived. Event hints describe what changed since
	// prev; absent hints carry the previous value forward unchanged (the
	// conservative default).
	if prev != nil {
		if gs.Date == "" {
			gs.Date = prev.Date
		}

		switch u.EventHint {
		case HintInningChange:
			if !haveHalf {
				gs.Half = flipHalf(prev.Half)
				imputed = append(imputed, "half")
				haveHalf = true
			}
			if !haveInning {
				gs.Inning = prev.Inning
				if prev.Half == state.BottomHalf {
					gs.Inning = prev.Inning + 1
				}
				imputed = append(imputed, "inning")
				haveInning = true
			}
			if !haveOuts {
				gs.Outs = 0
				imputed = append(imputed, "outs")
				haveOuts = true
			}
			if !haveBases {
				gs.Bases = state.BasesEmpty
				imputed = append(imputed, "bases")
				haveBases = true
			}
		case HintScoreChange:
			delta := 1
			if u.ScoreDelta != nil {
				delta = *u.ScoreDelta
			}
			if !haveHome && !haveAway {
				gs.HomeScore, gs.AwayScore = prev.HomeScore, prev.AwayScore
				if battingSideIsHome(half(prev, gs, haveHalf)) {
					gs.HomeScore += delta
				} else {
					gs.AwayScore += delta
				}
				imputed = append(imputed, "home_score", "away_score")
				haveHome, haveAway = true, true
			}
			if !haveBases {
				// A run clearing the bases is the single most common
				// scoring shape; the conservative completion.
				gs.Bases = state.BasesEmpty
				imputed = append(imputed, "bases")
				haveBases = true
			}
		}

		if !haveInning {
			gs.Inning = prev.Inning
			imputed = append(imputed, "inning")
			haveInning = true
		}
		if !haveHalf {
			gs.Half = prev.Half
			imputed = append(imputed, "half")
			haveHalf = true
		}
		if !haveOuts {
			gs.Outs = prev.Outs
			imputed = append(imputed, "outs")
			haveOuts = true
		}
		if !haveBases {
			gs.Bases = prev.Bases
			imputed = append(imputed, "bases")
			haveBases = true
		}
		if !haveHome {
			gs.HomeScore = prev.HomeScore
			imputed = append(imputed, "home_score")
			haveHome = true
		}
		if !haveAway {
			gs.AwayScore = prev.AwayScore
			imputed = append(imputed, "away_score")
			haveAway = true
		}
		method = "context"
	}

	// Level 3: statistical defaults for whatever level 2 couldn't reach.
	level3 := 0
	if !haveInning {
		gs.Inning = estimateInning(now)
		imputed = append(imputed, "inning")
		level3++
	}
	if !haveHalf {
		gs.Half = state.TopHalf
		imputed = append(imputed, "half")
		level3++
	}
	if !haveOuts {
		gs.Outs = 0
		imputed = append(imputed, "outs")
		level3++
	}
	if !haveBases {
		gs.Bases = state.BasesEmpty
		imputed = append(imputed, "bases")
		level3++
	}
	if !haveHome {
		gs.HomeScore = 0
		imputed = append(imputed, "home_score")
		level3++
	}
	if !haveAway {
		gs.AwayScore = 0
		imputed = append(imputed, "away_score")
		level3++
	}
	if gs.Date == "" {
		gs.Date = now.Format("2006-01-02")
		imputed = append(imputed, "date")
	}
	if level3 > 0 {
		method = "statistical"
	}

	// Level 4: emergency coercion. Always runs, idempotent — after it,
	// every field is inside its valid domain no matter what came in.
	coerced := coerce(&gs)
	level4 := len(coerced)
	if level4 > 0 {
		imputed = append(imputed, coerced...)
		method = "coercion"
	}

	conf := grade(len(imputed), level3+level4)
	scoresImputed := contains(imputed, "home_score") && contains(imputed, "away_score")
	reliable := !(conf == ConfidenceMinimal && scoresImputed)

	telemetry.Metrics.FieldsImputed.Add(int64(len(imputed)))
	if !reliable {
		telemetry.Metrics.UnreliableImputations.Inc()
	}

	return Result{
		State:         gs,
		Confidence:    conf,
		ImputedFields: imputed,
		Method:        method,
		Reliable:      reliable,
		DerivedIndex:  u.EventIndex == nil,
	}, nil
}

// Validate rejects results that must not reach the mixer: out-of-domain
// states (coercion should make this unreachable) and minimal-confidence
// results whose scores were guessed.
func (r Result) Validate() error {
	if err := r.State.Validate(); err != nil {
		return err
	}
	if !r.Reliable {
		return fmt.Errorf("impute: game %s: minimal confidence with imputed scores", r.State.GameID)
	}
	return nil
}

// coerce clamps every field into its valid domain and returns the names
// of fields it had to move.
func coerce(gs *state.GameState) []string {
	var touched []string
	if gs.Inning < 1 {
		gs.Inning = 1
		touched = append(touched, "inning")
	}
	if gs.Half != state.TopHalf && gs.Half != state.BottomHalf {
		gs.Half = state.TopHalf
		touched = append(touched, "half")
	}
	if gs.Outs < 0 || gs.Outs > 2 {
		gs.Outs = clampInt(gs.Outs, 0, 2)
		touched = append(touched, "outs")
	}
	if gs.Bases < state.BasesEmpty || gs.Bases > state.BasesLoaded {
		gs.Bases = clampInt(gs.Bases, state.BasesEmpty, state.BasesLoaded)
		touched = append(touched, "bases")
	}
	if gs.HomeScore < 0 {
		gs.HomeScore = 0
		touched = append(touched, "home_score")
	}
	if gs.AwayScore < 0 {
		gs.AwayScore = 0
		touched = append(touched, "away_score")
	}
	if gs.Timestamp.IsZero() {
		gs.Timestamp = time.Now().UTC()
		touched = append(touched, "timestamp")
	}
	return touched
}

// grade maps imputation effort to a confidence tier. Guesses from levels
// 3-4 cost far more than context propagation.
func grade(total, level34 int) Confidence {
	switch {
	case level34 > 2:
		return ConfidenceMinimal
	case level34 > 0:
		return ConfidenceLow
	case total > 0:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// estimateInning guesses the inning from the wall clock. Night games
// dominate the schedule (18:00 first pitch), so the hour maps roughly
// onto game progress.
func estimateInning(t time.Time) int {
	switch h := t.Hour(); {
	case h < 18:
		return 1
	case h < 19:
		return 2
	case h < 20:
		return 4
	case h < 21:
		return 6
	case h < 22:
		return 8
	default:
		return 9
	}
}

func flipHalf(h state.Half) state.Half {
	if h == state.TopHalf {
		return state.BottomHalf
	}
	return state.TopHalf
}

// half picks the best-known current half for attributing a score change:
// the update's own value when present, otherwise the previous state's.
func half(prev *state.GameState, cur state.GameState, haveHalf bool) state.Half {
	if haveHalf {
		return cur.Half
	}
	return prev.Half
}

// battingSideIsHome: the home team bats in the bottom half.
func battingSideIsHome(h state.Half) bool {
	return h == state.BottomHalf
}

func contains(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
