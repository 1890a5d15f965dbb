package state

import (
	"fmt"
	"time"
)

// Half identifies which side of the inning is batting.
type Half string

const (
	TopHalf    Half = "top"
	BottomHalf Half = "bottom"
)

// Bases bitmask values. Bit 0 = first base, bit 1 = second, bit 2 = third.
const (
	BasesEmpty  = 0
	BaseFirst   = 1 << 0
	BaseSecond  = 1 << 1
	BaseThird   = 1 << 2
	BasesLoaded = BaseFirst | BaseSecond | BaseThird
)

// GameState is the authoritative snapshot of one in-progress game.
// It is a plain value type; the Store owns the committed copy and
// hands out copies to callers.
type GameState struct {
	GameID    string    `json:"game_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Inning    int       `json:"inning"`
	Half      Half      `json:"half"`
	Outs      int       `json:"outs"`  // 0..2
	Bases     int       `json:"bases"` // 3-bit mask
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	Pitcher   string    `json:"pitcher,omitempty"`
	Batter    string    `json:"batter,omitempty"`
	LastPlay  string    `json:"last_play,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// EventIndex strictly increases across accepted updates for a game.
	// It is the sole idempotency / ordering guard in the Store.
	EventIndex int64 `json:"event_index"`
}

// Lead is the home-team run differential.
func (g GameState) Lead() int { return g.HomeScore - g.AwayScore }

// Decided reports whether the state reflects a finished game: a 9th-or-later
// bottom half with the home team ahead covers both the walk-off and the
// home side clinching without batting; other endings arrive as explicit
// feed-final states in a later inning with the same shape.
func (g GameState) Decided() bool {
	return g.Inning >= 9 && g.Half == BottomHalf && g.HomeScore > g.AwayScore
}

// SameSituation reports whether two states describe the same game moment
// as far as persisted output is concerned: inning, half, outs, bases, and
// run differential all equal.
func (g GameState) SameSituation(o GameState) bool {
	return g.Inning == o.Inning &&
		g.Half == o.Half &&
		g.Outs == o.Outs &&
		g.Bases == o.Bases &&
		g.Lead() == o.Lead()
}

// Validate checks the domain ranges every committed state must satisfy.
func (g GameState) Validate() error {
	if g.GameID == "" {
		return fmt.Errorf("game state: empty game id")
	}
	if g.Inning < 1 {
		return fmt.Errorf("game state %s: inning %d < 1", g.GameID, g.Inning)
	}
	if g.Half != TopHalf && g.Half != BottomHalf {
		return fmt.Errorf("game state %s: invalid half %q", g.GameID, g.Half)
	}
	if g.Outs < 0 || g.Outs > 2 {
		return fmt.Errorf("game state %s: outs %d out of range", g.GameID, g.Outs)
	}
	if g.Bases < BasesEmpty || g.Bases > BasesLoaded {
		return fmt.Errorf("game state %s: bases mask %d out of range", g.GameID, g.Bases)
	}
	if g.HomeScore < 0 || g.AwayScore < 0 {
		return fmt.Errorf("game state %s: negative score %d-%d", g.GameID, g.HomeScore, g.AwayScore)
	}
	return nil
}
