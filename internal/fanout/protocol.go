package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/persist"
)

// Envelope is the wire format for events sent over the fanout WebSocket.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	GameID    string          `json:"game_id,omitempty"`
	Date      string          `json:"date,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalEvent serializes an Event into a JSON-encoded Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		Type:      string(evt.Type),
		ID:        evt.ID,
		GameID:    evt.GameID,
		Date:      evt.Date,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	}
	return json.Marshal(env)
}

// UnmarshalEvent deserializes a JSON Envelope back into a typed Event.
// Transition events carry a persist.LiveEvent payload; raw updates carry
// an events.GameStateUpdate.
func UnmarshalEvent(data []byte) (events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := events.Event{
		ID:        env.ID,
		Type:      events.EventType(env.Type),
		GameID:    env.GameID,
		Date:      env.Date,
		Timestamp: env.Timestamp,
	}

	switch evt.Type {
	case events.EventStateChange, events.EventInningEnd, events.EventGameEnd, events.EventPrediction:
		var le persist.LiveEvent
		if err := json.Unmarshal(env.Payload, &le); err != nil {
			return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt.Payload = le
	case events.EventRawUpdate:
		var u events.GameStateUpdate
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			return evt, fmt.Errorf("unmarshal raw_update: %w", err)
		}
		evt.Payload = u
	default:
		return evt, fmt.Errorf("unknown event type: %s", env.Type)
	}

	return evt, nil
}
