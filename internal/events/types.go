package events

// GameStateUpdate is the partial record produced by the upstream scraping
// layer for one observed game moment. Every field except GameID is optional;
// pointers distinguish "absent" from zero values.
//
// Bases may arrive as a 3-bit mask, a descriptive string (ASCII or kanji,
// e.g. "二塁・三塁" or "満塁"), or an array of occupied base numbers. The
// imputation layer normalizes all three shapes before the value reaches
// anything downstream.
type GameStateUpdate struct {
	GameID     string  `json:"game_id"`
	Date       string  `json:"date,omitempty"`
	Inning     *int    `json:"inning,omitempty"`
	Half       *string `json:"half,omitempty"` // "top" or "bottom"
	Outs       *int    `json:"outs,omitempty"`
	Bases      any     `json:"bases,omitempty"`   // int, string, or []number
	Runners    any     `json:"runners,omitempty"` // alias some feeds use for Bases
	HomeScore  *int    `json:"home_score,omitempty"`
	AwayScore  *int    `json:"away_score,omitempty"`
	Pitcher    string  `json:"pitcher,omitempty"`
	Batter     string  `json:"batter,omitempty"`
	LastPlay   string  `json:"last_play,omitempty"`
	UpdatedAt  int64   `json:"updated_at,omitempty"` // Unix UTC seconds
	EventIndex *int64  `json:"event_index,omitempty"`

	// Hints inferred by the feed parser from the page diff.
	// Known values: "score_change", "inning_change".
	EventHint string `json:"event_hint,omitempty"`

	// ScoreDelta is the explicit run delta accompanying a score_change
	// hint, nil when the feed only reports that the score moved.
	ScoreDelta *int `json:"score_delta,omitempty"`

	// Source identifies the upstream feed; used for confidence bonuses.
	Source string `json:"source,omitempty"`
}

// ReliefAppearance is one relief-pitching appearance record, the raw input
// to the bullpen strength rater.
type ReliefAppearance struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Team     string `json:"team"`
	IsRelief bool   `json:"is_relief"`
	BF       int    `json:"bf"` // batters faced
	K        int    `json:"k"`
	BB       int    `json:"bb"`
	H        int    `json:"h"`
	HR       int    `json:"hr"`
	IPOuts   int    `json:"ip_outs"` // outs recorded (innings pitched * 3)
}
