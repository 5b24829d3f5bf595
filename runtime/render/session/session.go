// Package session wires the render pipeline for one conversation. A Session
// consumes inbound stream events one at a time, correlates tool events to
// call identities, applies them to the call state machine, dispatches the
// updated view and hands the output to its presenters. Shared state events
// update the session's synchronizer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/callview/runtime/render/callstate"
	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/stream"
	"goa.design/callview/runtime/render/telemetry"
	"goa.design/callview/runtime/render/toolcall"
	"goa.design/callview/runtime/render/tools"
)

type (
	// Presenter receives the output of every dispatched view.
	Presenter interface {
		Present(ctx context.Context, out dispatch.Output) error
	}

	// StatePresenter is implemented by presenters that also want shared
	// state snapshots.
	StatePresenter interface {
		PresentState(ctx context.Context, snap sharedstate.Snapshot) error
	}

	// PresenterFunc adapts a function to Presenter.
	PresenterFunc func(ctx context.Context, out dispatch.Output) error

	// Session is the render pipeline of one conversation.
	Session struct {
		id         string
		registry   *tools.Registry
		correlator *tools.Correlator
		machine    *callstate.Machine
		dispatcher *dispatch.Dispatcher
		state      *sharedstate.Synchronizer

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		mu         sync.Mutex
		presenters []Presenter
		ended      atomic.Bool
	}

	// Option configures a Session.
	Option func(*options)

	options struct {
		id            string
		defaults      map[string]any
		presenters    []Presenter
		errorRenderer tools.RenderFunc
		correlator    *tools.Correlator
		logger        telemetry.Logger
		metrics       telemetry.Metrics
		tracer        telemetry.Tracer
	}
)

// ErrSessionEnded is returned by Handle after Close.
var ErrSessionEnded = errors.New("session ended")

// WithID sets the session ID. Events carrying a different session ID are
// ignored. It defaults to a random UUID.
func WithID(id string) Option { return func(o *options) { o.id = id } }

// WithStateDefaults seeds the shared state.
func WithStateDefaults(defaults map[string]any) Option {
	return func(o *options) { o.defaults = defaults }
}

// WithPresenter adds a presenter. Presenters are called in the order they
// were added.
func WithPresenter(p Presenter) Option {
	return func(o *options) { o.presenters = append(o.presenters, p) }
}

// WithErrorRenderer sets the generic error renderer of the dispatcher.
func WithErrorRenderer(fn tools.RenderFunc) Option {
	return func(o *options) { o.errorRenderer = fn }
}

// WithCorrelator sets the correlator, mainly so tests can control minted IDs.
func WithCorrelator(c *tools.Correlator) Option {
	return func(o *options) { o.correlator = c }
}

// WithLogger sets the logger shared by the pipeline components.
func WithLogger(l telemetry.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics recorder shared by the pipeline components.
func WithMetrics(m telemetry.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithTracer sets the tracer used to span event handling.
func WithTracer(t telemetry.Tracer) Option { return func(o *options) { o.tracer = t } }

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, out dispatch.Output) error { return f(ctx, out) }

// New creates a session rendering the tools of registry.
func New(registry *tools.Registry, opts ...Option) (*Session, error) {
	if registry == nil {
		return nil, errors.New("session: registry is required")
	}
	o := options{
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		tracer:  telemetry.NoopTracer{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.correlator == nil {
		o.correlator = tools.NewCorrelator()
	}
	state := sharedstate.New()
	if _, err := state.Initialize(o.defaults); err != nil {
		return nil, fmt.Errorf("session: initialize shared state: %w", err)
	}
	dopts := []dispatch.Option{dispatch.WithLogger(o.logger), dispatch.WithMetrics(o.metrics)}
	if o.errorRenderer != nil {
		dopts = append(dopts, dispatch.WithErrorRenderer(o.errorRenderer))
	}
	return &Session{
		id:         o.id,
		registry:   registry,
		correlator: o.correlator,
		machine:    callstate.New(registry, callstate.WithLogger(o.logger), callstate.WithMetrics(o.metrics)),
		dispatcher: dispatch.New(registry, dopts...),
		state:      state,
		logger:     o.logger,
		metrics:    o.metrics,
		tracer:     o.tracer,
		presenters: o.presenters,
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Registry returns the tool registry of the session.
func (s *Session) Registry() *tools.Registry { return s.registry }

// State returns the current shared state snapshot.
func (s *Session) State() sharedstate.Snapshot { return s.state.Read() }

// WatchState registers fn to be called with every new shared state snapshot.
func (s *Session) WatchState(fn func(sharedstate.Snapshot)) (cancel func()) {
	return s.state.Watch(fn)
}

// ReplaceState replaces the shared state with fields and presents the
// resulting snapshot.
func (s *Session) ReplaceState(ctx context.Context, fields map[string]any) error {
	snap, err := s.state.Replace(fields)
	if err != nil {
		return err
	}
	return s.presentState(ctx, snap)
}

// Calls returns the views of the calls of turn in creation order.
func (s *Session) Calls(turn string) []toolcall.View { return s.machine.Views(turn) }

// AddPresenter adds a presenter to a running session.
func (s *Session) AddPresenter(p Presenter) {
	s.mu.Lock()
	s.presenters = append(s.presenters, p)
	s.mu.Unlock()
}

// EndTurn drops the calls of turn. Calls still running are abandoned.
func (s *Session) EndTurn(turn string) {
	s.correlator.EndTurn(turn)
	s.machine.EndTurn(turn)
}

// Close ends the session. Subsequent calls to Handle return ErrSessionEnded.
func (s *Session) Close() { s.ended.Store(true) }

// Run handles events until the channel is closed, ctx is canceled or the
// session is closed. Errors returned by presenters are logged and do not
// stop the loop. Run returns ctx.Err() when canceled and nil otherwise.
func (s *Session) Run(ctx context.Context, events <-chan stream.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, ev); err != nil {
				if errors.Is(err, ErrSessionEnded) {
					return nil
				}
				s.logger.Error(ctx, "render event failed", "type", string(ev.Type()), "run_id", ev.RunID(), "err", err)
			}
		}
	}
}

// Handle processes a single event. Pipeline failures degrade into the
// rendered output; the returned error only reports presenter failures and
// ErrSessionEnded.
func (s *Session) Handle(ctx context.Context, ev stream.Event) error {
	if s.ended.Load() {
		return ErrSessionEnded
	}
	if sid := ev.SessionID(); sid != "" && sid != s.id {
		s.logger.Debug(ctx, "ignoring event for another session", "session_id", sid, "type", string(ev.Type()))
		return nil
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "callview.session.handle",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.AddEvent("event", "type", string(ev.Type()), "run_id", ev.RunID())

	err := s.handle(ctx, span, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordTimer(telemetry.MetricEventDuration, time.Since(start), "type", string(ev.Type()))
	return err
}

func (s *Session) handle(ctx context.Context, span telemetry.Span, ev stream.Event) error {
	run := ev.RunID()
	switch e := ev.(type) {
	case stream.ToolCallStart:
		return s.apply(ctx, span, e.Data.ToolRef, run, callstate.Event{Kind: callstate.ArgsDelta, Args: e.Data.Args}, true, false)
	case stream.ToolCallArgsDelta:
		return s.apply(ctx, span, e.Data.ToolRef, run, callstate.Event{Kind: callstate.ArgsDelta, Args: e.Data.Args}, len(e.Data.Args) > 0, false)
	case stream.ToolStatus:
		status, err := toolcall.ParseStatus(e.Data.Status)
		if err != nil {
			s.logger.Warn(ctx, "ignoring tool status", "tool", e.Data.ToolName, "err", err)
			return nil
		}
		return s.apply(ctx, span, e.Data.ToolRef, run, callstate.Event{Kind: callstate.StatusChange, Status: status, Error: e.Data.Error}, false, status.Terminal())
	case stream.ToolOutputDelta:
		return s.apply(ctx, span, e.Data.ToolRef, run, callstate.Event{Kind: callstate.ResultDelta, Result: e.Data.Output}, false, false)
	case stream.ToolEnd:
		return s.apply(ctx, span, e.Data.ToolRef, run, callstate.Event{
			Kind:    callstate.ResultFinal,
			Result:  e.Data.Result,
			IsError: e.Data.IsError,
			Error:   e.Data.Error,
		}, false, true)
	case stream.StateSnapshot:
		return s.ReplaceState(ctx, e.Data.State)
	case stream.StateDelta:
		snap, err := s.state.ApplyRemoteUpdate(e.Data.Patch)
		if err != nil {
			return err
		}
		return s.presentState(ctx, snap)
	case stream.TurnEnd:
		s.EndTurn(run)
		return nil
	default:
		s.logger.Debug(ctx, "ignoring event", "type", string(ev.Type()))
		return nil
	}
}

// apply routes ev to its call. Only opening events may start a new ID-less
// invocation; the others attach to the open or last finished one.
func (s *Session) apply(ctx context.Context, span telemetry.Span, ref stream.ToolRef, run string, ev callstate.Event, opens, closes bool) error {
	var id toolcall.Identity
	if opens {
		id = s.correlator.Resolve(run, ref.ToolName, ref.ToolCallID)
	} else {
		id = s.correlator.Follow(run, ref.ToolName, ref.ToolCallID)
	}
	ev.Identity = id
	ev.ToolName = ref.ToolName
	ev.Meta = ref.Meta
	view := s.machine.Apply(ctx, ev)
	if closes {
		s.correlator.Close(id)
	}
	if err := callstate.FailureError(view); err != nil {
		span.AddEvent("call_failed", "tool", view.ToolName, "call", id.String(), "error", err.Error())
	}
	return s.present(ctx, s.dispatcher.Dispatch(ctx, view))
}

func (s *Session) present(ctx context.Context, out dispatch.Output) error {
	var errs []error
	for _, p := range s.snapshotPresenters() {
		if err := p.Present(ctx, out); err != nil {
			errs = append(errs, fmt.Errorf("present %s: %w", out.Identity, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) presentState(ctx context.Context, snap sharedstate.Snapshot) error {
	var errs []error
	for _, p := range s.snapshotPresenters() {
		if sp, ok := p.(StatePresenter); ok {
			if err := sp.PresentState(ctx, snap); err != nil {
				errs = append(errs, fmt.Errorf("present state: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Session) snapshotPresenters() []Presenter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presenter(nil), s.presenters...)
}
