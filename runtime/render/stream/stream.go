// Package stream defines the inbound events consumed by a render session.
//
// Agents (or the provider adapters under features/source) emit these events
// while a turn is running: tool call lifecycle updates and shared state
// changes. All concrete events embed Base and implement Event. On the wire
// each event travels in an Envelope carrying its type, run and session IDs,
// a timestamp and the JSON payload; Decode and Encode convert between the
// two forms.
package stream

import "goa.design/callview/runtime/render/payload"

type (
	// Event is an inbound event. Implementations are immutable after
	// construction.
	Event interface {
		// Type returns the event type.
		Type() EventType
		// RunID identifies the conversational turn that produced the event.
		RunID() string
		// SessionID identifies the session the turn belongs to.
		SessionID() string
		// Payload returns the JSON serializable event data.
		Payload() any
	}

	// EventType enumerates inbound event flavors.
	EventType string

	// Base carries the metadata shared by every event.
	Base struct {
		t EventType
		r string
		s string
		p any
	}

	// ToolCallStart announces a tool call, optionally with its initial
	// arguments.
	ToolCallStart struct {
		Base
		Data ToolCallStartPayload
	}

	// ToolCallArgsDelta carries argument fields decoded so far. Fields
	// override earlier values with the same name.
	ToolCallArgsDelta struct {
		Base
		Data ToolCallArgsDeltaPayload
	}

	// ToolStatus advances the status of a tool call.
	ToolStatus struct {
		Base
		Data ToolStatusPayload
	}

	// ToolOutputDelta carries a partial tool result.
	ToolOutputDelta struct {
		Base
		Data ToolOutputDeltaPayload
	}

	// ToolEnd carries the final tool result or error.
	ToolEnd struct {
		Base
		Data ToolEndPayload
	}

	// StateSnapshot replaces the shared state.
	StateSnapshot struct {
		Base
		Data StateSnapshotPayload
	}

	// StateDelta merges keys into the shared state.
	StateDelta struct {
		Base
		Data StateDeltaPayload
	}

	// TurnEnd marks the end of a turn. Calls of the turn that are still
	// running are abandoned.
	TurnEnd struct {
		Base
		Data TurnEndPayload
	}

	// ToolRef identifies the tool call an event refers to. ToolCallID is the
	// provider assigned ID and may be empty, in which case the session
	// correlates the event with the open call of the same tool.
	ToolRef struct {
		ToolCallID string         `json:"tool_call_id,omitempty"`
		ToolName   string         `json:"tool_name"`
		Meta       map[string]any `json:"meta,omitempty"`
	}

	// ToolCallStartPayload is the wire payload of ToolCallStart.
	ToolCallStartPayload struct {
		ToolRef
		Args map[string]any `json:"args,omitempty"`
	}

	// ToolCallArgsDeltaPayload is the wire payload of ToolCallArgsDelta.
	ToolCallArgsDeltaPayload struct {
		ToolRef
		Args map[string]any `json:"args"`
	}

	// ToolStatusPayload is the wire payload of ToolStatus. Status accepts
	// the names understood by toolcall.ParseStatus.
	ToolStatusPayload struct {
		ToolRef
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	// ToolOutputDeltaPayload is the wire payload of ToolOutputDelta.
	ToolOutputDeltaPayload struct {
		ToolRef
		Output payload.Payload `json:"output"`
	}

	// ToolEndPayload is the wire payload of ToolEnd. Result is either a JSON
	// value or a JSON string holding an encoded value.
	ToolEndPayload struct {
		ToolRef
		Result  payload.Payload `json:"result"`
		IsError bool            `json:"is_error,omitempty"`
		Error   string          `json:"error,omitempty"`
	}

	// StateSnapshotPayload is the wire payload of StateSnapshot.
	StateSnapshotPayload struct {
		State map[string]any `json:"state"`
	}

	// StateDeltaPayload is the wire payload of StateDelta.
	StateDeltaPayload struct {
		Patch map[string]any `json:"patch"`
	}

	// TurnEndPayload is the wire payload of TurnEnd. It is empty: the run ID
	// is carried by the envelope.
	TurnEndPayload struct{}
)

const (
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallArgsDelta EventType = "tool_call_args_delta"
	EventToolStatus        EventType = "tool_status"
	EventToolOutputDelta   EventType = "tool_output_delta"
	EventToolEnd           EventType = "tool_end"
	EventStateSnapshot     EventType = "state_snapshot"
	EventStateDelta        EventType = "state_delta"
	EventTurnEnd           EventType = "turn_end"
)

// NewBase constructs a Base.
func NewBase(t EventType, runID, sessionID string, payload any) Base {
	return Base{t: t, r: runID, s: sessionID, p: payload}
}

func (e Base) Type() EventType   { return e.t }
func (e Base) RunID() string     { return e.r }
func (e Base) SessionID() string { return e.s }
func (e Base) Payload() any      { return e.p }

// NewToolCallStart builds a ToolCallStart event.
func NewToolCallStart(runID, sessionID string, data ToolCallStartPayload) ToolCallStart {
	return ToolCallStart{Base: NewBase(EventToolCallStart, runID, sessionID, data), Data: data}
}

// NewToolCallArgsDelta builds a ToolCallArgsDelta event.
func NewToolCallArgsDelta(runID, sessionID string, data ToolCallArgsDeltaPayload) ToolCallArgsDelta {
	return ToolCallArgsDelta{Base: NewBase(EventToolCallArgsDelta, runID, sessionID, data), Data: data}
}

// NewToolStatus builds a ToolStatus event.
func NewToolStatus(runID, sessionID string, data ToolStatusPayload) ToolStatus {
	return ToolStatus{Base: NewBase(EventToolStatus, runID, sessionID, data), Data: data}
}

// NewToolOutputDelta builds a ToolOutputDelta event.
func NewToolOutputDelta(runID, sessionID string, data ToolOutputDeltaPayload) ToolOutputDelta {
	return ToolOutputDelta{Base: NewBase(EventToolOutputDelta, runID, sessionID, data), Data: data}
}

// NewToolEnd builds a ToolEnd event.
func NewToolEnd(runID, sessionID string, data ToolEndPayload) ToolEnd {
	return ToolEnd{Base: NewBase(EventToolEnd, runID, sessionID, data), Data: data}
}

// NewStateSnapshot builds a StateSnapshot event.
func NewStateSnapshot(runID, sessionID string, data StateSnapshotPayload) StateSnapshot {
	return StateSnapshot{Base: NewBase(EventStateSnapshot, runID, sessionID, data), Data: data}
}

// NewStateDelta builds a StateDelta event.
func NewStateDelta(runID, sessionID string, data StateDeltaPayload) StateDelta {
	return StateDelta{Base: NewBase(EventStateDelta, runID, sessionID, data), Data: data}
}

// NewTurnEnd builds a TurnEnd event.
func NewTurnEnd(runID, sessionID string) TurnEnd {
	return TurnEnd{Base: NewBase(EventTurnEnd, runID, sessionID, TurnEndPayload{})}
}
