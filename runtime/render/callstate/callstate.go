// Package callstate tracks the lifecycle of streamed tool invocations.
//
// A Machine owns one View per call identity. Events are applied one at a time
// in arrival order; each application returns a deep copy of the updated view
// so renderers never observe later mutations. Status only moves forward
// (PENDING, STREAMING_ARGS, EXECUTING, then COMPLETE or FAILED) and terminal
// calls never reopen. Events that arrive out of order are not reconstructed:
// backward transitions are dropped and logged.
package callstate

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"goa.design/callview/runtime/render/payload"
	"goa.design/callview/runtime/render/telemetry"
	"goa.design/callview/runtime/render/toolcall"
	"goa.design/callview/runtime/render/tools"
)

type (
	// EventKind enumerates the call events understood by the machine.
	EventKind int

	// Event is one update for a tool invocation. Which fields are read
	// depends on Kind.
	Event struct {
		Identity toolcall.Identity
		// ToolName names the invoked tool. It is recorded when the view is
		// created or when an earlier event omitted it.
		ToolName string
		Kind     EventKind
		// Args holds the argument fields of an ArgsDelta event.
		Args map[string]any
		// Status is the target of a StatusChange event.
		Status toolcall.Status
		// Result is the payload of ResultDelta and ResultFinal events.
		Result payload.Payload
		// IsError flags a ResultFinal event as a failure.
		IsError bool
		// Error carries a failure message for ResultFinal or a FAILED
		// StatusChange.
		Error string
		// Meta is merged into the view metadata for every event kind,
		// including events received after the call terminated.
		Meta map[string]any
	}

	// Resolver looks up tool registrations by name. *tools.Registry
	// implements it.
	Resolver interface {
		Resolve(name string) (tools.Registration, bool)
	}

	// Machine applies events to call views.
	Machine struct {
		tools   Resolver
		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu    sync.Mutex
		views map[toolcall.Identity]*toolcall.View
		turns map[string][]toolcall.Identity
	}

	// Option configures a Machine.
	Option func(*Machine)

	// ValidationError reports the argument issues that failed a call when it
	// started executing.
	ValidationError struct {
		Tool   string
		Issues []tools.FieldIssue
	}
)

const (
	// ArgsDelta merges partial arguments.
	ArgsDelta EventKind = iota + 1
	// StatusChange advances the call status.
	StatusChange
	// ResultDelta stores a partial result.
	ResultDelta
	// ResultFinal stores the final result and terminates the call.
	ResultFinal
)

// WithLogger sets the logger used to report anomalies.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt telemetry.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// New returns a machine validating arguments with the registrations found in
// resolver. A nil resolver disables validation.
func New(resolver Resolver, opts ...Option) *Machine {
	m := &Machine{
		tools:   resolver,
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		views:   make(map[toolcall.Identity]*toolcall.View),
		turns:   make(map[string][]toolcall.Identity),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (k EventKind) String() string {
	switch k {
	case ArgsDelta:
		return "ARGS_DELTA"
	case StatusChange:
		return "STATUS_CHANGE"
	case ResultDelta:
		return "RESULT_DELTA"
	case ResultFinal:
		return "RESULT_FINAL"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

func (e *ValidationError) Error() string {
	return tools.IssuesError(e.Tool, e.Issues)
}

// Apply applies ev and returns a copy of the resulting view. The first event
// for an identity creates its view in PENDING. Apply never fails: invalid
// transitions and validation failures are recorded on the view or logged.
func (m *Machine) Apply(ctx context.Context, ev Event) toolcall.View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[ev.Identity]
	if !ok {
		v = &toolcall.View{
			ToolName: ev.ToolName,
			Identity: ev.Identity,
			Status:   toolcall.StatusPending,
			Args:     make(map[string]any),
		}
		m.views[ev.Identity] = v
		m.turns[ev.Identity.Turn] = append(m.turns[ev.Identity.Turn], ev.Identity)
	}
	if v.ToolName == "" {
		v.ToolName = ev.ToolName
	}
	if len(ev.Meta) > 0 {
		if v.Meta == nil {
			v.Meta = make(map[string]any, len(ev.Meta))
		}
		maps.Copy(v.Meta, ev.Meta)
	}
	v.Revision++

	if v.Status.Terminal() {
		m.logger.Debug(ctx, "event after terminal status",
			"tool", v.ToolName, "call", v.Identity.String(), "kind", ev.Kind.String(), "status", v.Status.String())
		return v.Clone()
	}

	switch ev.Kind {
	case ArgsDelta:
		maps.Copy(v.Args, ev.Args)
		if v.Status == toolcall.StatusPending {
			v.Status = toolcall.StatusStreamingArgs
		}
	case StatusChange:
		m.advance(ctx, v, ev)
	case ResultDelta:
		setResult(v, ev.Result)
	case ResultFinal:
		if !ev.Result.IsAbsent() {
			setResult(v, ev.Result)
		}
		if msg, failed := failure(v, ev); failed {
			v.Status = toolcall.StatusFailed
			v.Error = msg
		} else {
			v.Status = toolcall.StatusComplete
		}
	default:
		m.logger.Warn(ctx, "unknown call event kind", "tool", v.ToolName, "call", v.Identity.String(), "kind", ev.Kind.String())
	}
	return v.Clone()
}

// View returns a copy of the view for id.
func (m *Machine) View(id toolcall.Identity) (toolcall.View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	if !ok {
		return toolcall.View{}, false
	}
	return v.Clone(), true
}

// Views returns copies of the views of turn in creation order.
func (m *Machine) Views(turn string) []toolcall.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.turns[turn]
	out := make([]toolcall.View, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.views[id].Clone())
	}
	return out
}

// EndTurn drops every view of turn and returns how many were dropped. Calls
// that never reached a terminal status are abandoned.
func (m *Machine) EndTurn(turn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.turns[turn]
	for _, id := range ids {
		delete(m.views, id)
	}
	delete(m.turns, turn)
	return len(ids)
}

// Len returns the number of live views.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// FailureError returns the error recorded on a failed view: a
// *ValidationError when argument validation failed it, a plain error
// otherwise. It returns nil for views that did not fail.
func FailureError(v toolcall.View) error {
	if v.Status != toolcall.StatusFailed {
		return nil
	}
	if len(v.Issues) > 0 {
		return &ValidationError{Tool: v.ToolName, Issues: v.Issues}
	}
	return fmt.Errorf("tool %s failed: %s", v.ToolName, v.Error)
}

func (m *Machine) advance(ctx context.Context, v *toolcall.View, ev Event) {
	if !v.Status.Advances(ev.Status) {
		if ev.Status != v.Status {
			m.logger.Warn(ctx, "rejected status regression",
				"tool", v.ToolName, "call", v.Identity.String(), "from", v.Status.String(), "to", ev.Status.String())
			m.metrics.IncCounter(telemetry.MetricStatusRegression, 1, "tool", v.ToolName)
		}
		return
	}
	switch ev.Status {
	case toolcall.StatusExecuting:
		if issues := m.validate(v); len(issues) > 0 {
			v.Status = toolcall.StatusFailed
			v.Issues = issues
			v.Error = tools.IssuesError(v.ToolName, issues)
			m.logger.Info(ctx, "tool call arguments failed validation",
				"tool", v.ToolName, "call", v.Identity.String(), "error", v.Error)
			m.metrics.IncCounter(telemetry.MetricValidationFailure, 1, "tool", v.ToolName)
			return
		}
	case toolcall.StatusFailed:
		v.Error = ev.Error
		if v.Error == "" {
			v.Error = "tool call failed"
		}
	}
	v.Status = ev.Status
}

func (m *Machine) validate(v *toolcall.View) []tools.FieldIssue {
	if m.tools == nil {
		return nil
	}
	reg, ok := m.tools.Resolve(v.ToolName)
	if !ok {
		return nil
	}
	return reg.Validate(v.Args)
}

func setResult(v *toolcall.View, p payload.Payload) {
	v.RawResult = p
	v.Result, v.HasResult = payload.Normalize(p)
}

// failure reports whether a final result signals an error and the message to
// record. Results shaped {"error": "..."} are failures.
func failure(v *toolcall.View, ev Event) (string, bool) {
	if ev.Error != "" {
		return ev.Error, true
	}
	if obj, ok := v.ResultObject(); ok {
		if msg, ok := obj["error"].(string); ok && strings.TrimSpace(msg) != "" {
			return msg, true
		}
	}
	if ev.IsError {
		if !v.HasResult && v.RawResult.Kind() == payload.KindEncoded && v.RawResult.Text() != "" {
			return v.RawResult.Text(), true
		}
		return "tool call failed", true
	}
	return "", false
}
