package impute

import (
	"testing"
	"time"

	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
)

func fixedClock() time.Time {
	// 20:30 local: estimateInning lands mid-game.
	return time.Date(2026, 8, 14, 20, 30, 0, 0, time.UTC)
}

func intp(v int) *int       { return &v }
func i64p(v int64) *int64   { return &v }
func strp(v string) *string { return &v }

func TestCompleteMissingGameID(t *testing.T) {
	l := NewLadder(fixedClock)
	_, err := l.Complete(events.GameStateUpdate{}, nil)
	if err != ErrMissingGameID {
		t.Fatalf("err = %v, want ErrMissingGameID", err)
	}
}

func TestCompleteFullUpdatePassesThrough(t *testing.T) {
	l := NewLadder(fixedClock)

	res, err := l.Complete(events.GameStateUpdate{
		GameID:     "g1",
		Date:       "2026-08-14",
		Inning:     intp(7),
		Half:       strp("bottom"),
		Outs:       intp(2),
		Bases:      5,
		HomeScore:  intp(3),
		AwayScore:  intp(2),
		UpdatedAt:  1765000000,
		EventIndex: i64p(41),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if res.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high", res.Confidence)
	}
	if !res.Reliable {
		t.Error("full update must be reliable")
	}
	if len(res.ImputedFields) != 0 {
		t.Errorf("imputed fields = %v, want none", res.ImputedFields)
	}
	if res.DerivedIndex {
		t.Error("index came from the feed, DerivedIndex must be false")
	}
	if res.State.Inning != 7 || res.State.Half != state.BottomHalf || res.State.Bases != 5 {
		t.Errorf("state = %+v", res.State)
	}
	if err := res.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompleteGameIDOnlyIsMinimal(t *testing.T) {
	l := NewLadder(fixedClock)

	res, err := l.Complete(events.GameStateUpdate{GameID: "g1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if res.Confidence != ConfidenceMinimal {
		t.Errorf("confidence = %s, want minimal", res.Confidence)
	}
	if res.Reliable {
		t.Error("all-statistical state with guessed scores must be unreliable")
	}
	if err := res.Validate(); err == nil {
		t.Error("Validate must reject an unreliable result")
	}
	// The state itself must still be range-valid for storage.
	if err := res.State.Validate(); err != nil {
		t.Errorf("stored state invalid: %v", err)
	}
	if !res.DerivedIndex {
		t.Error("no feed index: DerivedIndex must be true")
	}
}

func TestCompleteCarriesForwardFromPrev(t *testing.T) {
	l := NewLadder(fixedClock)
	prev := &state.GameState{
		GameID: "g1", Date: "2026-08-14",
		Inning: 5, Half: state.TopHalf, Outs: 1, Bases: 3,
		HomeScore: 2, AwayScore: 4, EventIndex: 30,
	}

	res, err := l.Complete(events.GameStateUpdate{
		GameID:     "g1",
		Outs:       intp(2),
		EventIndex: i64p(31),
	}, prev)
	if err != nil {
		t.Fatal(err)
	}

	gs := res.State
	if gs.Inning != 5 || gs.Half != state.TopHalf || gs.Bases != 3 {
		t.Errorf("situation not carried forward: %+v", gs)
	}
	if gs.Outs != 2 {
		t.Errorf("explicit outs lost: %d", gs.Outs)
	}
	if gs.HomeScore != 2 || gs.AwayScore != 4 {
		t.Errorf("scores not carried forward: %d-%d", gs.HomeScore, gs.AwayScore)
	}
	if gs.Date != "2026-08-14" {
		t.Errorf("date not carried forward: %q", gs.Date)
	}
	if res.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %s, want medium (context only)", res.Confidence)
	}
	if !res.Reliable {
		t.Error("context-derived completion must be reliable")
	}
}

func TestCompleteInningChangeHint(t *testing.T) {
	l := NewLadder(fixedClock)

	cases := []struct {
		name       string
		prev       state.GameState
		wantInning int
		wantHalf   state.Half
	}{
		{
			name:       "top flips to bottom same inning",
			prev:       state.GameState{GameID: "g", Inning: 5, Half: state.TopHalf, Outs: 2, Bases: 7},
			wantInning: 5,
			wantHalf:   state.BottomHalf,
		},
		{
			name:       "bottom rolls to next top",
			prev:       state.GameState{GameID: "g", Inning: 5, Half: state.BottomHalf, Outs: 2, Bases: 7},
			wantInning: 6,
			wantHalf:   state.TopHalf,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := l.Complete(events.GameStateUpdate{
				GameID:     "g",
				EventHint:  HintInningChange,
				EventIndex: i64p(10),
			}, &tc.prev)
			if err != nil {
				t.Fatal(err)
			}
			gs := res.State
			if gs.Inning != tc.wantInning || gs.Half != tc.wantHalf {
				t.Errorf("got %s%d, want %s%d", gs.Half, gs.Inning, tc.wantHalf, tc.wantInning)
			}
			if gs.Outs != 0 || gs.Bases != state.BasesEmpty {
				t.Errorf("inning change must reset outs/bases, got outs=%d bases=%d", gs.Outs, gs.Bases)
			}
		})
	}
}

func TestCompleteScoreChangeHint(t *testing.T) {
	l := NewLadder(fixedClock)

	cases := []struct {
		name     string
		half     state.Half
		delta    *int
		wantHome int
		wantAway int
	}{
		{name: "bottom half credits home", half: state.BottomHalf, wantHome: 3, wantAway: 1},
		{name: "top half credits away", half: state.TopHalf, wantHome: 2, wantAway: 2},
		{name: "explicit delta", half: state.BottomHalf, delta: intp(2), wantHome: 4, wantAway: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := &state.GameState{
				GameID: "g", Inning: 6, Half: tc.half, Outs: 1, Bases: 5,
				HomeScore: 2, AwayScore: 1,
			}
			res, err := l.Complete(events.GameStateUpdate{
				GameID:     "g",
				EventHint:  HintScoreChange,
				ScoreDelta: tc.delta,
				EventIndex: i64p(10),
			}, prev)
			if err != nil {
				t.Fatal(err)
			}
			gs := res.State
			if gs.HomeScore != tc.wantHome || gs.AwayScore != tc.wantAway {
				t.Errorf("score = %d-%d, want %d-%d", gs.HomeScore, gs.AwayScore, tc.wantHome, tc.wantAway)
			}
			if gs.Bases != state.BasesEmpty {
				t.Errorf("score change without bases info must clear bases, got %d", gs.Bases)
			}
		})
	}
}

func TestCompleteCoercesOutOfDomainInput(t *testing.T) {
	l := NewLadder(fixedClock)

	res, err := l.Complete(events.GameStateUpdate{
		GameID:     "g1",
		Inning:     intp(0),
		Half:       strp("middle"),
		Outs:       intp(3),
		Bases:      9,
		HomeScore:  intp(-1),
		AwayScore:  intp(4),
		EventIndex: i64p(1),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	gs := res.State
	if err := gs.Validate(); err != nil {
		t.Fatalf("coercion left an invalid state: %v", err)
	}
	if gs.Inning != 1 || gs.Half != state.TopHalf || gs.Outs != 2 || gs.HomeScore != 0 {
		t.Errorf("coerced state = %+v", gs)
	}
	if res.Method != "coercion" {
		t.Errorf("method = %q, want coercion", res.Method)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	l := NewLadder(fixedClock)
	u := events.GameStateUpdate{
		GameID:     "g1",
		Inning:     intp(4),
		Outs:       intp(1),
		EventIndex: i64p(12),
	}
	prev := &state.GameState{
		GameID: "g1", Date: "2026-08-14",
		Inning: 4, Half: state.BottomHalf, Outs: 0, Bases: 1,
		HomeScore: 1, AwayScore: 0,
	}

	a, err := l.Complete(u, prev)
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Complete(u, prev)
	if err != nil {
		t.Fatal(err)
	}
	if a.State != b.State {
		t.Errorf("same input produced different states:\n  %+v\n  %+v", a.State, b.State)
	}
	if a.Confidence != b.Confidence {
		t.Errorf("confidence differs: %s vs %s", a.Confidence, b.Confidence)
	}
}

func TestGrade(t *testing.T) {
	cases := []struct {
		total, level34 int
		want           Confidence
	}{
		{0, 0, ConfidenceHigh},
		{2, 0, ConfidenceMedium},
		{3, 1, ConfidenceLow},
		{3, 2, ConfidenceLow},
		{6, 3, ConfidenceMinimal},
	}
	for _, tc := range cases {
		if got := grade(tc.total, tc.level34); got != tc.want {
			t.Errorf("grade(%d, %d) = %s, want %s", tc.total, tc.level34, got, tc.want)
		}
	}
}
