package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/core/impute"
	"github.com/kfurusawa/winprob/internal/core/model"
	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/persist"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// GameInfo registers a game before its first live update: the pregame
// model output plus the team identities the bullpen adjuster needs.
type GameInfo struct {
	GameID      string  `json:"game_id"`
	Date        string  `json:"date"` // YYYY-MM-DD
	HomeTeam    string  `json:"home_team"`
	AwayTeam    string  `json:"away_team"`
	PregameProb float64 `json:"pregame_probability"` // home win probability in (0,1)
}

// Engine runs each update through the full pipeline: impute -> store
// (idempotency gate) -> mix -> smooth -> adjust -> classify -> persist.
//
// All per-game work is serialized through the game's worker goroutine,
// which is what every ordering guarantee here rests on. Different games
// run on different workers in parallel. There is no cancellation: an update is
// either fully processed or rejected outright as stale.
type Engine struct {
	bus    *events.Bus
	store  *state.Store
	writer *persist.Writer
	rater  *bullpen.Rater

	ladder     *impute.Ladder
	mixer      *model.Mixer
	smoother   *model.Smoother
	classifier *model.Classifier
	adjuster   *bullpen.Adjuster

	modelVersion string
	finishedTTL  time.Duration
	clock        func() time.Time

	mu      sync.Mutex
	workers map[string]*gameWorker
	games   map[string]GameInfo
}

func New(
	bus *events.Bus,
	st *state.Store,
	writer *persist.Writer,
	rater *bullpen.Rater,
	params config.ModelParams,
	finishedTTL time.Duration,
	clock func() time.Time,
) *Engine {
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		bus:          bus,
		store:        st,
		writer:       writer,
		rater:        rater,
		ladder:       impute.NewLadder(clock),
		mixer:        model.NewMixer(params.Mixer),
		smoother:     model.NewSmoother(params.Smoother),
		classifier:   model.NewClassifier(params.Confidence),
		adjuster:     bullpen.NewAdjuster(params.Adjuster),
		modelVersion: params.ModelVersion,
		finishedTTL:  finishedTTL,
		clock:        clock,
		workers:      make(map[string]*gameWorker),
		games:        make(map[string]GameInfo),
	}

	if bus != nil {
		bus.Subscribe(events.EventRawUpdate, e.onRawUpdate)
	}
	return e
}

// RegisterGame supplies the pregame probability and team identities for a
// game. Must arrive before the first in-game update; updates for
// unregistered games still flow, with a neutral pregame and no bullpen
// adjustment.
func (e *Engine) RegisterGame(info GameInfo) {
	e.mu.Lock()
	e.games[info.GameID] = info
	e.mu.Unlock()

	if info.Date != "" && e.rater != nil {
		go e.persistRatings(info.Date)
	}
}

// ProcessUpdate hands a raw update to its game's worker. Returns
// immediately; the pipeline runs on the worker goroutine.
func (e *Engine) ProcessUpdate(u events.GameStateUpdate) {
	telemetry.Metrics.UpdatesReceived.Inc()

	if u.GameID == "" {
		// Unrecoverable: nothing to attach the update to. Drop and alert.
		telemetry.Metrics.UpdatesDropped.Inc()
		telemetry.Errorf("engine: dropping update with no game id (source=%s)", u.Source)
		return
	}

	w := e.worker(u.GameID)
	w.Send(func() { e.process(u) })
}

func (e *Engine) onRawUpdate(evt events.Event) error {
	u, ok := evt.Payload.(events.GameStateUpdate)
	if !ok {
		return nil
	}
	e.ProcessUpdate(u)
	return nil
}

// process runs the whole pipeline for one update. Runs on the game's
// worker goroutine: for a given game there is never more than one
// execution in flight.
func (e *Engine) process(u events.GameStateUpdate) {
	start := e.clock()

	var prevPtr *state.GameState
	if prev, ok := e.store.Get(u.GameID); ok {
		prevPtr = &prev
	}

	res, err := e.ladder.Complete(u, prevPtr)
	if err != nil {
		telemetry.Metrics.UpdatesDropped.Inc()
		telemetry.Errorf("engine: impute failed: %v", err)
		return
	}
	if res.DerivedIndex {
		res.State.EventIndex = e.store.NextEventIndex(u.GameID)
	}

	outcome := e.store.Upsert(res.State)
	if !outcome.Applied {
		// Duplicate or out-of-order: a retried fetch, not a failure.
		telemetry.Debugf("engine: stale update game=%s index=%d", u.GameID, res.State.EventIndex)
		return
	}

	gs := res.State
	info := e.gameInfo(gs.GameID)
	pregame := model.ClampProb(info.PregameProb)

	w := e.worker(gs.GameID)

	scoreEvent := u.EventHint == impute.HintScoreChange ||
		(outcome.Prev != nil && outcome.Prev.Lead() != gs.Lead())

	var pState, pMixed, weight float64
	confidence := model.PredictionLow

	valid := res.Validate() == nil
	if valid {
		pState = model.StateProbability(gs, pregame)
		pMixed, weight = e.mixer.Mix(pregame, pState, gs.Inning, gs.Outs)
		pMixed = e.smoother.Smooth(w.smoothed, pMixed, scoreEvent)
	} else {
		// Low-trust imputation: committed for continuity, suppressed from
		// mixing. Ride the previous estimate (or the pregame line) and
		// force the lowest confidence tier.
		pState = pregame
		if w.smoothed != nil {
			pMixed = *w.smoothed
		} else {
			pMixed = pregame
		}
	}

	// The EWMA state carries the pre-adjustment value. The bullpen shift
	// is applied to the outgoing copy only: feeding the shifted value back
	// into the smoother would re-add the shift every cycle and walk the
	// output past the adjuster's cap.
	pMixed = model.ClampProb(pMixed)
	smoothed := pMixed
	w.smoothed = &smoothed

	if valid {
		if info.HomeTeam != "" && info.AwayTeam != "" {
			zHome, okH := e.rater.Z(gs.Date, info.HomeTeam)
			zAway, okA := e.rater.Z(gs.Date, info.AwayTeam)
			if okH && okA {
				pMixed = e.adjuster.Adjust(pMixed, gs.Inning, zHome, zAway)
			}
		}
		confidence = e.classifier.Confidence(pMixed, u.Source)
	}
	telemetry.Metrics.PredictionsMixed.Inc()

	latency := e.clock().Sub(start)
	telemetry.Metrics.PipelineLatency.Record(latency)

	ev := persist.LiveEvent{
		GameID:     gs.GameID,
		Date:       gs.Date,
		EventIndex: gs.EventIndex,
		Transition: string(outcome.Transition),

		Inning:    gs.Inning,
		Half:      string(gs.Half),
		Outs:      gs.Outs,
		Bases:     gs.Bases,
		HomeScore: gs.HomeScore,
		AwayScore: gs.AwayScore,
		Pitcher:   gs.Pitcher,
		Batter:    gs.Batter,
		LastPlay:  gs.LastPlay,

		HomeWinProbability:   pMixed,
		AwayWinProbability:   1 - pMixed,
		PredictionConfidence: confidence,
		PregameWeight:        1 - weight,
		StateWeight:          weight,
		PregameProbability:   pregame,
		StateProbability:     pState,
		ImputationConfidence: string(res.Confidence),
		ModelVersion:         e.modelVersion,
		ProcessingLatencyMS:  latency.Milliseconds(),

		Timestamp: gs.Timestamp,
	}

	action, err := e.writer.Append(gs.Date, ev)
	if err != nil {
		// Persisted history must not silently diverge from memory.
		telemetry.Errorf("engine: persist game=%s: %v", gs.GameID, err)
		return
	}
	if action == persist.ActionSkip {
		return
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventTypeFor(outcome.Transition),
			GameID:    gs.GameID,
			Date:      gs.Date,
			Timestamp: gs.Timestamp,
			Payload:   ev,
		})
	}

	if outcome.Transition == events.TransitionGameEnd {
		e.scheduleCleanup(gs.GameID)
	}
}

// gameInfo returns the registration for a game, or a neutral fallback.
func (e *Engine) gameInfo(gameID string) GameInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.games[gameID]; ok {
		return info
	}
	return GameInfo{GameID: gameID, PregameProb: 0.5}
}

func (e *Engine) persistRatings(date string) {
	ratings, err := e.rater.Sorted(date)
	if err != nil {
		telemetry.Warnf("engine: bullpen ratings for %s: %v", date, err)
		return
	}
	if len(ratings) == 0 {
		return
	}
	if err := e.writer.WriteRatings(date, ratings); err != nil {
		telemetry.Warnf("engine: persist ratings for %s: %v", date, err)
	}
}

// scheduleCleanup drops a finished game after the TTL so latest.json
// consumers see the final state while memory stays bounded.
func (e *Engine) scheduleCleanup(gameID string) {
	if e.finishedTTL <= 0 {
		e.removeGame(gameID)
		return
	}
	time.AfterFunc(e.finishedTTL, func() { e.removeGame(gameID) })
}

func (e *Engine) removeGame(gameID string) {
	e.mu.Lock()
	w, ok := e.workers[gameID]
	delete(e.workers, gameID)
	delete(e.games, gameID)
	e.mu.Unlock()

	e.store.Cleanup([]string{gameID})
	if ok {
		// removeGame can run on the worker's own goroutine (game_end with
		// a zero TTL); Close waits for that goroutine, so it must not be
		// called from it.
		go w.Close()
	}
}

// Close stops all workers, waiting for any in-flight update on each to
// finish. Queued but unstarted updates are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	workers := make([]*gameWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*gameWorker)
	e.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}

func (e *Engine) worker(gameID string) *gameWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[gameID]
	if !ok {
		w = newGameWorker(gameID)
		e.workers[gameID] = w
	}
	return w
}
