// Package toolcall defines the view model shared by the render pipeline: the
// identity correlating the events of one tool invocation, its lifecycle
// status, and the View handed to renderers.
package toolcall

import (
	"fmt"
	"maps"
	"strings"

	"goa.design/callview/runtime/render/payload"
)

type (
	// Identity correlates every event of one tool invocation within one
	// conversational turn. Identities are comparable and used as map keys.
	Identity struct {
		// Turn identifies the conversational turn (run) owning the call.
		Turn string
		// Call identifies the invocation within the turn. Provider tool-use
		// IDs are used when available; otherwise the correlator mints one.
		Call string
	}

	// Status is the lifecycle state of a tool invocation.
	Status string

	// FieldIssue describes one argument validation problem. Constraint values
	// follow goa error kinds: missing_field, invalid_field_type.
	FieldIssue struct {
		Field      string
		Constraint string
		// Expected lists the declared types for invalid_field_type issues.
		Expected []string
	}

	// View is the coherent state of one invocation as seen by renderers. It
	// accumulates every event applied so far; fields are partial until the
	// call reaches a terminal status.
	View struct {
		ToolName string
		Identity Identity
		Status   Status
		// Args holds the arguments merged from all argument deltas.
		Args map[string]any
		// RawResult is the last result payload received, as delivered.
		RawResult payload.Payload
		// Result is RawResult normalized. It is only meaningful when
		// HasResult is true.
		Result    any
		HasResult bool
		// Error is set when the call failed.
		Error string
		// Issues lists the argument validation issues that failed the call.
		Issues []FieldIssue
		// Meta carries auxiliary data attached by late or out-of-band events.
		Meta map[string]any
		// Revision counts the events applied to the view.
		Revision int
	}
)

const (
	// StatusPending is the initial status of a newly observed call.
	StatusPending Status = "pending"
	// StatusStreamingArgs indicates arguments are still being streamed.
	StatusStreamingArgs Status = "streaming_args"
	// StatusExecuting indicates arguments are final and execution started.
	StatusExecuting Status = "executing"
	// StatusComplete indicates the call produced its final result.
	StatusComplete Status = "complete"
	// StatusFailed indicates the call failed.
	StatusFailed Status = "failed"
)

// String returns "turn/call".
func (id Identity) String() string {
	return id.Turn + "/" + id.Call
}

// IsZero reports whether id carries no call identifier.
func (id Identity) IsZero() bool {
	return id.Call == ""
}

// ParseStatus converts s to a Status. Besides the canonical names it accepts
// upper case forms (STREAMING_ARGS) and the renderer contract aliases used by
// chat front ends: "inProgress", "executing" and "complete".
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "streaming_args", "inprogress", "in_progress", "streaming":
		return StatusStreamingArgs, nil
	case "executing", "running":
		return StatusExecuting, nil
	case "complete", "completed", "done":
		return StatusComplete, nil
	case "failed", "error":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown tool call status %q", s)
	}
}

// Rank returns the position of s in the lifecycle order. Both terminal
// statuses share the highest rank. Unknown statuses rank below pending.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusStreamingArgs:
		return 1
	case StatusExecuting:
		return 2
	case StatusComplete, StatusFailed:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether s is COMPLETE or FAILED.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Advances reports whether moving from s to next is a forward transition.
// Terminal statuses never advance.
func (s Status) Advances(next Status) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	return next.Rank() > s.Rank()
}

// String returns the upper case wire name of the status (STREAMING_ARGS).
func (s Status) String() string {
	return strings.ToUpper(string(s))
}

// Arg returns the named argument as a string when it is one.
func (v View) Arg(name string) (string, bool) {
	s, ok := v.Args[name].(string)
	return s, ok
}

// ResultObject returns the normalized result when it is a JSON object.
func (v View) ResultObject() (map[string]any, bool) {
	if !v.HasResult {
		return nil, false
	}
	m, ok := v.Result.(map[string]any)
	return m, ok
}

// Clone returns a deep copy of v. Args, Meta and structured results are
// copied recursively so readers can never mutate the machine's state.
func (v View) Clone() View {
	out := v
	out.Args = cloneMap(v.Args)
	out.Meta = cloneMap(v.Meta)
	out.Result = cloneValue(v.Result)
	if v.Issues != nil {
		out.Issues = make([]FieldIssue, len(v.Issues))
		for i, is := range v.Issues {
			is.Expected = append([]string(nil), is.Expected...)
			out.Issues[i] = is
		}
	}
	if v.RawResult.Kind() == payload.KindRaw {
		out.RawResult = payload.Raw(cloneValue(v.RawResult.Value()))
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(val)
	default:
		return v
	}
}
