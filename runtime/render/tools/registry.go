// Package tools holds the per-session catalog of renderable tools and the
// correlator that assigns stable identities to streamed tool invocations.
//
// A Registry is created by presentation setup code, populated once with
// Register (directly or from YAML declarations), then read concurrently by
// the dispatcher and the call state machine. There is no process-wide
// registry: each session owns or shares an explicit instance.
package tools

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/callview/runtime/render/toolcall"
)

type (
	// RenderFunc renders the current view of a tool call. Renderers are
	// invoked again for every applied event and must be pure functions of
	// the view; they must tolerate partial or absent arguments and results.
	RenderFunc func(toolcall.View) any

	// Availability states where a tool executes.
	Availability string

	// ParamType is the declared JSON type of a tool parameter.
	ParamType string

	// Param declares one tool parameter.
	Param struct {
		Name     string
		Type     ParamType
		Required bool
	}

	// Registration describes a renderable tool. Registrations are immutable
	// once registered; Resolve returns copies that share the read-only
	// parameter list.
	Registration struct {
		// Name is the unique tool name matched against call views.
		Name string
		// Description is shown in tool listings.
		Description string
		// Params is the ordered parameter declaration used to validate
		// arguments when a call starts executing.
		Params []Param
		// Availability is AvailabilityDisabled for tools executed remotely
		// and only rendered here.
		Availability Availability
		// Render produces the presentation output for a view.
		Render RenderFunc
		// HandlesFailure reports whether Render knows how to present failed
		// calls. When false the dispatcher uses its generic error renderer.
		HandlesFailure bool

		schema *jsonschema.Schema
	}

	// Registry maps tool names to registrations.
	Registry struct {
		mu     sync.RWMutex
		byName map[string]*Registration
		order  []string
	}

	// FieldIssue describes one argument validation problem.
	FieldIssue = toolcall.FieldIssue

	// DuplicateRegistrationError is returned by Register when a tool name is
	// registered twice with conflicting definitions.
	DuplicateRegistrationError struct {
		Name   string
		Reason string
	}
)

const (
	// AvailabilityEnabled marks a tool executed by the local process.
	AvailabilityEnabled Availability = "enabled"
	// AvailabilityDisabled marks a tool executed elsewhere and only rendered
	// locally.
	AvailabilityDisabled Availability = "disabled"
)

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ErrInvalidRegistration is wrapped by errors describing malformed
// registrations.
var ErrInvalidRegistration = errors.New("invalid tool registration")

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Registration)}
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("tool %q already registered with a different definition: %s", e.Name, e.Reason)
}

// ParseAvailability converts s to an Availability. The empty string is
// AvailabilityEnabled.
func ParseAvailability(s string) (Availability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AvailabilityEnabled):
		return AvailabilityEnabled, nil
	case string(AvailabilityDisabled):
		return AvailabilityDisabled, nil
	default:
		return "", fmt.Errorf("%w: unknown availability %q", ErrInvalidRegistration, s)
	}
}

// Register adds reg to the registry. Registering the same name again with an
// identical definition is a no-op; a conflicting definition returns a
// *DuplicateRegistrationError. Registrations with a blank name, a nil
// renderer or malformed parameters are rejected with ErrInvalidRegistration.
func (r *Registry) Register(reg Registration) error {
	prepared, err := prepare(reg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[prepared.Name]; ok {
		if reason := conflict(existing, prepared); reason != "" {
			return &DuplicateRegistrationError{Name: prepared.Name, Reason: reason}
		}
		return nil
	}
	r.byName[prepared.Name] = prepared
	r.order = append(r.order, prepared.Name)
	return nil
}

// RegisterAll registers each registration in order and stops at the first
// error.
func (r *Registry) RegisterAll(regs ...Registration) error {
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is like Register but panics on error. It is meant for setup
// code registering static catalogs.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Resolve returns the registration for name. The boolean is false when no
// tool with that name is registered.
func (r *Registry) Resolve(name string) (Registration, bool) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Registrations lists registrations in registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ExecutesLocally reports whether the tool runs in this process. Disabled
// tools are rendered only.
func (reg Registration) ExecutesLocally() bool {
	return reg.Availability != AvailabilityDisabled
}

// RequiredParams returns the names of the required parameters in
// declaration order.
func (reg Registration) RequiredParams() []string {
	var names []string
	for _, p := range reg.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

func prepare(reg Registration) (*Registration, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidRegistration)
	}
	if reg.Render == nil {
		return nil, fmt.Errorf("%w: tool %q has no renderer", ErrInvalidRegistration, reg.Name)
	}
	avail, err := ParseAvailability(string(reg.Availability))
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", reg.Name, err)
	}
	reg.Availability = avail
	reg.Params = slices.Clone(reg.Params)
	seen := make(map[string]struct{}, len(reg.Params))
	for _, p := range reg.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: tool %q has a parameter without a name", ErrInvalidRegistration, reg.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: tool %q declares parameter %q twice", ErrInvalidRegistration, reg.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case ParamString, ParamNumber, ParamBoolean:
		default:
			return nil, fmt.Errorf("%w: tool %q parameter %q has unknown type %q", ErrInvalidRegistration, reg.Name, p.Name, p.Type)
		}
	}
	schema, err := compileParams(reg.Params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", reg.Name, err)
	}
	reg.schema = schema
	return &reg, nil
}

func conflict(a, b *Registration) string {
	switch {
	case !slices.Equal(a.Params, b.Params):
		return "parameter schema differs"
	case a.Availability != b.Availability:
		return fmt.Sprintf("availability %s != %s", a.Availability, b.Availability)
	case a.HandlesFailure != b.HandlesFailure:
		return "failure handling differs"
	default:
		return ""
	}
}
