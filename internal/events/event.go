package events

import "time"

// Event is the envelope that flows through the event bus.
// Every domain event (raw update, accepted transition, rating refresh)
// is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	GameID    string
	Date      string // game date, YYYY-MM-DD
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Feed-side events
	EventRawUpdate EventType = "raw_update"
	// Transition events published by the state store on acceptance
	EventStateChange EventType = "state_change"
	EventInningEnd   EventType = "inning_end"
	EventGameEnd     EventType = "game_end"
	// Derived output events
	EventPrediction EventType = "prediction"
)

// TransitionType classifies an accepted state-store commit.
type TransitionType string

const (
	TransitionStateChange TransitionType = "state_change"
	TransitionInningEnd   TransitionType = "inning_end"
	TransitionGameEnd     TransitionType = "game_end"
)

// EventTypeFor maps a transition classification to its bus event type.
func EventTypeFor(t TransitionType) EventType {
	switch t {
	case TransitionInningEnd:
		return EventInningEnd
	case TransitionGameEnd:
		return EventGameEnd
	default:
		return EventStateChange
	}
}
