// Package dispatch turns call views into presentation output by invoking the
// renderer registered for the view's tool.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/callview/runtime/render/telemetry"
	"goa.design/callview/runtime/render/toolcall"
	"goa.design/callview/runtime/render/tools"
)

type (
	// Mode describes which phase of a call an output presents.
	Mode string

	// Output is the result of dispatching one view.
	Output struct {
		Identity toolcall.Identity
		ToolName string
		Status   toolcall.Status
		Mode     Mode
		// Revision is the view revision the output was rendered from.
		Revision int
		// Content is the renderer output. It is nil for ModeEmpty.
		Content any
	}

	// Failure is the content produced by the generic error renderer.
	Failure struct {
		Tool    string
		Message string
		Issues  []tools.FieldIssue
	}

	// Resolver looks up tool registrations by name. *tools.Registry
	// implements it.
	Resolver interface {
		Resolve(name string) (tools.Registration, bool)
	}

	// Dispatcher renders views. It is safe for concurrent use.
	Dispatcher struct {
		tools         Resolver
		errorRenderer tools.RenderFunc
		logger        telemetry.Logger
		metrics       telemetry.Metrics
		diagEvery     time.Duration

		mu    sync.Mutex
		diags map[string]*rate.Sometimes
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)
)

const (
	// ModeEmpty is the neutral output of views whose tool is not registered.
	ModeEmpty Mode = "empty"
	// ModeLoading presents a running call that has no result yet.
	ModeLoading Mode = "loading"
	// ModePartial presents a running call with a partial result.
	ModePartial Mode = "partial"
	// ModeComplete presents a completed call.
	ModeComplete Mode = "complete"
	// ModeFailed presents a failed call.
	ModeFailed Mode = "failed"
)

// WithErrorRenderer sets the renderer used for failed calls whose tool does
// not handle failures, and for renderers that panic.
func WithErrorRenderer(fn tools.RenderFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.errorRenderer = fn
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDiagnosticInterval sets how often the unknown tool diagnostic may be
// logged for a given tool name. It defaults to one minute.
func WithDiagnosticInterval(every time.Duration) Option {
	return func(d *Dispatcher) { d.diagEvery = every }
}

// New returns a dispatcher rendering with the registrations of resolver.
func New(resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:         resolver,
		errorRenderer: RenderFailure,
		logger:        telemetry.NoopLogger{},
		metrics:       telemetry.NoopMetrics{},
		diagEvery:     time.Minute,
		diags:         make(map[string]*rate.Sometimes),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RenderFailure is the default generic error renderer. It returns a Failure.
func RenderFailure(v toolcall.View) any {
	msg := v.Error
	if msg == "" {
		msg = "tool call failed"
	}
	return Failure{Tool: v.ToolName, Message: msg, Issues: v.Issues}
}

// Dispatch renders v with the renderer registered for its tool. Unknown
// tools yield a ModeEmpty output. Dispatch never panics: a panicking
// renderer degrades to the error renderer.
func (d *Dispatcher) Dispatch(ctx context.Context, v toolcall.View) Output {
	out := Output{
		Identity: v.Identity,
		ToolName: v.ToolName,
		Status:   v.Status,
		Revision: v.Revision,
		Mode:     ModeEmpty,
	}
	reg, ok := d.resolve(v.ToolName)
	if !ok {
		d.metrics.IncCounter(telemetry.MetricUnknownTool, 1, "tool", v.ToolName)
		d.diagnostic(v.ToolName).Do(func() {
			d.logger.Warn(ctx, "no renderer registered for tool", "tool", v.ToolName, "call", v.Identity.String())
		})
		return out
	}

	render := reg.Render
	switch {
	case v.Status == toolcall.StatusFailed:
		out.Mode = ModeFailed
		if !reg.HandlesFailure {
			render = d.errorRenderer
		}
	case v.Status == toolcall.StatusComplete:
		out.Mode = ModeComplete
	case v.HasResult:
		out.Mode = ModePartial
	default:
		out.Mode = ModeLoading
	}

	content, err := invoke(render, v)
	if err != nil {
		d.logger.Error(ctx, "renderer panicked", "tool", v.ToolName, "call", v.Identity.String(), "err", err)
		d.metrics.IncCounter(telemetry.MetricRendererPanic, 1, "tool", v.ToolName)
		failed := v
		failed.Error = err.Error()
		out.Mode = ModeFailed
		content, err = invoke(d.errorRenderer, failed)
		if err != nil {
			content = RenderFailure(failed)
		}
	}
	out.Content = content
	return out
}

func (d *Dispatcher) resolve(name string) (tools.Registration, bool) {
	if d.tools == nil || name == "" {
		return tools.Registration{}, false
	}
	return d.tools.Resolve(name)
}

func (d *Dispatcher) diagnostic(tool string) *rate.Sometimes {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.diags[tool]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: d.diagEvery}
		d.diags[tool] = s
	}
	return s
}

func invoke(render tools.RenderFunc, v toolcall.View) (content any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render %s: panic: %v", v.ToolName, r)
		}
	}()
	return render(v), nil
}
