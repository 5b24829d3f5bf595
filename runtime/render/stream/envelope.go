package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the wire form of an event.
type Envelope struct {
	// Type identifies the event kind (e.g. "tool_end").
	Type string `json:"type"`
	// RunID identifies the turn that produced the event.
	RunID string `json:"run_id"`
	// SessionID identifies the session of the turn.
	SessionID string `json:"session_id,omitempty"`
	// Timestamp records when the event was published (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Payload holds the event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownEventType is returned by Decode for envelopes whose type is not
// an inbound event type.
var ErrUnknownEventType = errors.New("unknown event type")

// Encode wraps ev in an envelope stamped with the current time and marshals
// it to JSON.
func Encode(ev Event) ([]byte, error) {
	p, err := json.Marshal(ev.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{
		Type:      string(ev.Type()),
		RunID:     ev.RunID(),
		SessionID: ev.SessionID(),
		Timestamp: time.Now().UTC(),
		Payload:   p,
	})
}

// Decode unmarshals a JSON envelope into the matching typed event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Event()
}

// Event converts the envelope into the matching typed event.
func (env Envelope) Event() (Event, error) {
	run, sess := env.RunID, env.SessionID
	switch EventType(env.Type) {
	case EventToolCallStart:
		return decodeAs(env, func(p ToolCallStartPayload) Event { return NewToolCallStart(run, sess, p) })
	case EventToolCallArgsDelta:
		return decodeAs(env, func(p ToolCallArgsDeltaPayload) Event { return NewToolCallArgsDelta(run, sess, p) })
	case EventToolStatus:
		return decodeAs(env, func(p ToolStatusPayload) Event { return NewToolStatus(run, sess, p) })
	case EventToolOutputDelta:
		return decodeAs(env, func(p ToolOutputDeltaPayload) Event { return NewToolOutputDelta(run, sess, p) })
	case EventToolEnd:
		return decodeAs(env, func(p ToolEndPayload) Event { return NewToolEnd(run, sess, p) })
	case EventStateSnapshot:
		return decodeAs(env, func(p StateSnapshotPayload) Event { return NewStateSnapshot(run, sess, p) })
	case EventStateDelta:
		return decodeAs(env, func(p StateDeltaPayload) Event { return NewStateDelta(run, sess, p) })
	case EventTurnEnd:
		return NewTurnEnd(run, sess), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEventType, env.Type)
	}
}

func decodeAs[T any](env Envelope, build func(T) Event) (Event, error) {
	var p T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return build(p), nil
}
