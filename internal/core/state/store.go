package state

import (
	"sync"

	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// Observer receives every accepted transition, synchronously, in
// registration order. prev is nil on a game's first accepted update.
//
// A panicking observer is recovered and logged; it never aborts the
// commit or the remaining observers.
type Observer interface {
	OnTransition(prev *GameState, cur GameState, transition events.TransitionType)
}

// UpsertResult reports what Upsert did with an update.
type UpsertResult struct {
	// Applied is false for duplicate / out-of-order updates. A rejected
	// update is a no-op, not an error: retried feed fetches land here.
	Applied    bool
	Transition events.TransitionType
	Prev       *GameState
}

// Store is the authoritative per-game current state. Updates pass through
// a strictly-increasing event-index gate; the gate is atomic per game via
// a per-entry mutex, so two near-simultaneous updates for one game cannot
// both pass. Different games touch different entries and run in parallel.
type Store struct {
	mu        sync.RWMutex
	games     map[string]*gameEntry
	observers []Observer
}

type gameEntry struct {
	mu       sync.Mutex
	state    GameState
	finished bool
}

func NewStore() *Store {
	return &Store{
		games: make(map[string]*gameEntry),
	}
}

// AddObserver registers an observer. Must be called before updates flow;
// registration is not synchronized against Upsert.
func (s *Store) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Upsert applies next iff its EventIndex is greater than the stored one
// (or no state is stored yet). On acceptance it classifies the transition
// and notifies observers while still holding the game's lock, so observer
// callbacks see transitions in commit order.
func (s *Store) Upsert(next GameState) UpsertResult {
	e := s.entry(next.GameID)

	e.mu.Lock()
	defer e.mu.Unlock()

	var prev *GameState
	if e.state.GameID != "" {
		if next.EventIndex <= e.state.EventIndex {
			telemetry.Metrics.UpdatesStale.Inc()
			return UpsertResult{Applied: false}
		}
		p := e.state
		prev = &p
	}

	transition := classify(prev, next)
	e.state = next
	if transition == events.TransitionGameEnd {
		e.finished = true
	}

	s.notify(prev, next, transition)

	return UpsertResult{Applied: true, Transition: transition, Prev: prev}
}

// Get returns a copy of the committed state for a game.
func (s *Store) Get(gameID string) (GameState, bool) {
	s.mu.RLock()
	e, ok := s.games[gameID]
	s.mu.RUnlock()
	if !ok {
		return GameState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.GameID == "" {
		return GameState{}, false
	}
	return e.state, true
}

// NextEventIndex returns the index a feed-less update should carry:
// one past the committed index, or 1 for an unseen game. Degraded-mode
// only — a feed-supplied sequence number always wins.
func (s *Store) NextEventIndex(gameID string) int64 {
	if cur, ok := s.Get(gameID); ok {
		return cur.EventIndex + 1
	}
	return 1
}

// Cleanup removes the given games, bounding memory across a long-running
// process. Intended for games whose game_end transition has been persisted.
func (s *Store) Cleanup(gameIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range gameIDs {
		if _, ok := s.games[id]; ok {
			delete(s.games, id)
			telemetry.Metrics.ActiveGames.Dec()
		}
	}
}

// FinishedGames lists game ids whose latest transition was game_end.
func (s *Store) FinishedGames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, e := range s.games {
		e.mu.Lock()
		done := e.finished
		e.mu.Unlock()
		if done {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

func (s *Store) entry(gameID string) *gameEntry {
	s.mu.RLock()
	e, ok := s.games[gameID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.games[gameID]; ok {
		return e
	}
	e = &gameEntry{}
	s.games[gameID] = e
	telemetry.Metrics.ActiveGames.Inc()
	return e
}

func (s *Store) notify(prev *GameState, cur GameState, transition events.TransitionType) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					telemetry.Metrics.ObserverPanics.Inc()
					telemetry.Errorf("state store: observer panic game=%s transition=%s: %v",
						cur.GameID, transition, r)
				}
			}()
			o.OnTransition(prev, cur, transition)
		}()
	}
}

// classify decides what kind of transition an accepted commit represents.
// game_end wins over inning_end when both apply (a walk-off flips the
// half and decides the game in the same update).
func classify(prev *GameState, next GameState) events.TransitionType {
	if next.Decided() {
		return events.TransitionGameEnd
	}
	if prev != nil && (prev.Inning != next.Inning || prev.Half != next.Half) {
		return events.TransitionInningEnd
	}
	return events.TransitionStateChange
}
