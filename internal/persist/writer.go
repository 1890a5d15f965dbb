package persist

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// probEpsilon is the probability distance below which two otherwise
// identical states are the same logical event and the second write is
// skipped.
const probEpsilon = 1e-6

// LiveEvent is the flattened record persisted per accepted transition.
// Immutable once written: the timeline file is append-only and a line is
// never rewritten.
type LiveEvent struct {
	GameID     string `json:"game_id"`
	Date       string `json:"date"`
	EventIndex int64  `json:"event_index"`
	Transition string `json:"transition"`

	Inning    int    `json:"inning"`
	Half      string `json:"half"`
	Outs      int    `json:"outs"`
	Bases     int    `json:"bases"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Pitcher   string `json:"pitcher,omitempty"`
	Batter    string `json:"batter,omitempty"`
	LastPlay  string `json:"last_play,omitempty"`

	HomeWinProbability   float64 `json:"home_win_probability"`
	AwayWinProbability   float64 `json:"away_win_probability"`
	PredictionConfidence string  `json:"prediction_confidence"`
	PregameWeight        float64 `json:"pregame_weight"`
	StateWeight          float64 `json:"state_weight"`
	PregameProbability   float64 `json:"pregame_probability"`
	StateProbability     float64 `json:"state_probability"`
	ImputationConfidence string  `json:"imputation_confidence,omitempty"`
	ModelVersion         string  `json:"model_version"`
	ProcessingLatencyMS  int64   `json:"processing_latency_ms"`

	Timestamp time.Time `json:"timestamp"`
}

// Action reports what Append did.
type Action string

const (
	ActionAppend Action = "append"
	ActionSkip   Action = "skip"
)

// sameState reports whether two events describe the same logical moment:
// identical situation digits and a probability within epsilon. Duplicate
// feed fetches that survive the event-index gate (e.g. after a process
// restart) die here instead of polluting the timeline.
func (e LiveEvent) sameState(o LiveEvent) bool {
	return e.Inning == o.Inning &&
		e.Half == o.Half &&
		e.Outs == o.Outs &&
		e.Bases == o.Bases &&
		e.HomeScore-e.AwayScore == o.HomeScore-o.AwayScore &&
		math.Abs(e.HomeWinProbability-o.HomeWinProbability) < probEpsilon
}

// Writer owns the flat-file prediction layout:
//
//	{base}/predictions/live/date={date}/{gameID}/timeline.jsonl
//	{base}/predictions/live/date={date}/{gameID}/latest.json
//	{base}/derived/bullpen/date={date}/ratings.json
//
// Writes are serialized per (date, gameID) key. Errors propagate to the
// caller — a silently failed write would desync memory from disk.
type Writer struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWriter(baseDir string) *Writer {
	return &Writer{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Append persists one accepted transition: one line onto the game's
// timeline plus an overwrite of its latest snapshot. Returns ActionSkip
// without touching disk when the event is state-equal to the previous
// snapshot.
func (w *Writer) Append(date string, ev LiveEvent) (Action, error) {
	if ev.GameID == "" {
		return ActionSkip, fmt.Errorf("persist: event has no game id")
	}
	if date == "" {
		date = ev.Date
	}

	lock := w.keyLock(date + "/" + ev.GameID)
	lock.Lock()
	defer lock.Unlock()

	dir := w.gameDir(date, ev.GameID)
	latestPath := filepath.Join(dir, "latest.json")

	if prev, ok := readLatest(latestPath); ok && ev.sameState(prev) {
		telemetry.Metrics.WritesSkipped.Inc()
		return ActionSkip, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ActionSkip, fmt.Errorf("persist: create %s: %w", dir, err)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return ActionSkip, fmt.Errorf("persist: marshal event: %w", err)
	}

	start := time.Now()
	if err := appendLine(filepath.Join(dir, "timeline.jsonl"), line); err != nil {
		return ActionSkip, err
	}
	if err := writeAtomic(latestPath, line); err != nil {
		return ActionSkip, err
	}
	telemetry.Metrics.SnapshotWriteLatency.Record(time.Since(start))
	telemetry.Metrics.EventsWritten.Inc()

	return ActionAppend, nil
}

// Latest reads the current snapshot for a game, if one exists.
func (w *Writer) Latest(date, gameID string) (LiveEvent, bool) {
	lock := w.keyLock(date + "/" + gameID)
	lock.Lock()
	defer lock.Unlock()
	return readLatest(filepath.Join(w.gameDir(date, gameID), "latest.json"))
}

// WriteRatings overwrites the cached bullpen ratings for a date. Writes
// are serialized per date; two games registering on the same date must
// not race on the same temp file.
func (w *Writer) WriteRatings(date string, ratings []bullpen.Rating) error {
	lock := w.keyLock("ratings/" + date)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(w.baseDir, "derived", "bullpen", "date="+date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(ratings, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal ratings: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "ratings.json"), data)
}

func (w *Writer) gameDir(date, gameID string) string {
	return filepath.Join(w.baseDir, "predictions", "live", "date="+date, gameID)
}

func (w *Writer) keyLock(key string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

func readLatest(path string) (LiveEvent, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LiveEvent{}, false
	}
	var ev LiveEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		telemetry.Warnf("persist: corrupt snapshot %s: %v", path, err)
		return LiveEvent{}, false
	}
	return ev, true
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("persist: append %s: %w", path, err)
	}
	return f.Close()
}

// writeAtomic writes via a temp file + rename so a crash mid-write never
// leaves a torn latest.json.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist: rename %s: %w", tmp, err)
	}
	return nil
}
