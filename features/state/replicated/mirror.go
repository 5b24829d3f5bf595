// Package replicated mirrors the shared state of a render session into a
// Pulse replicated map (rmap) so that the agent process and every UI process
// observing the same conversation converge on one state.
//
// The state of a session is stored as a single JSON object under one map
// key, so readers never observe a partially applied update. Local snapshots
// are published as they change and remote changes are applied back to the
// session as whole-state replacements.
package replicated

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"goa.design/pulse/rmap"

	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/telemetry"
)

type (
	// Map is the minimal replicated-map contract required by the mirror.
	//
	// Map is satisfied by `*rmap.Map` from `goa.design/pulse/rmap`.
	// Implementations must be safe for concurrent use.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
		Unsubscribe(c <-chan rmap.EventKind)
	}

	// Target receives remote state. *session.Session implements it.
	Target interface {
		State() sharedstate.Snapshot
		ReplaceState(ctx context.Context, fields map[string]any) error
	}

	// Mirror keeps a session's shared state and a replicated map in sync.
	Mirror struct {
		m      Map
		key    string
		logger telemetry.Logger
	}

	// Option configures a Mirror.
	Option func(*Mirror)
)

const keyPrefix = "callview:state:"

// DefaultKey is the map key used when none is configured.
const DefaultKey = keyPrefix + "default"

// WithKey sets the map key holding the state.
func WithKey(key string) Option { return func(m *Mirror) { m.key = key } }

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option { return func(m *Mirror) { m.logger = l } }

// SessionKey returns the map key of the state of a session.
func SessionKey(sessionID string) string { return keyPrefix + sessionID }

// New returns a mirror backed by m.
func New(m Map, opts ...Option) *Mirror {
	mir := &Mirror{m: m, key: DefaultKey, logger: telemetry.NoopLogger{}}
	for _, opt := range opts {
		opt(mir)
	}
	return mir
}

// Key returns the map key holding the state.
func (m *Mirror) Key() string { return m.key }

// Present ignores rendered calls; the mirror only carries shared state.
func (m *Mirror) Present(context.Context, dispatch.Output) error { return nil }

// PresentState publishes snap.
func (m *Mirror) PresentState(ctx context.Context, snap sharedstate.Snapshot) error {
	return m.Publish(ctx, snap.Fields())
}

// Publish writes fields to the map. Nothing is written when the stored
// document already encodes the same state, so publishing a state that was
// just loaded does not produce map notifications.
func (m *Mirror) Publish(ctx context.Context, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal shared state: %w", err)
	}
	if cur, ok := m.m.Get(m.key); ok && cur == string(b) {
		return nil
	}
	if _, err := m.m.Set(ctx, m.key, string(b)); err != nil {
		return fmt.Errorf("set shared state %q: %w", m.key, err)
	}
	return nil
}

// Load reads the state held by the map. It returns false when the key is
// absent or its value is not a JSON object; the latter is logged.
func (m *Mirror) Load(ctx context.Context) (map[string]any, bool) {
	raw, ok := m.m.Get(m.key)
	if !ok {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		m.logger.Warn(ctx, "skipping undecodable shared state", "key", m.key, "err", err)
		return nil, false
	}
	return fields, true
}

// Clear deletes the state from the map.
func (m *Mirror) Clear(ctx context.Context) error {
	if _, err := m.m.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("delete shared state %q: %w", m.key, err)
	}
	return nil
}

// Sync applies the map content to t. A missing document leaves t
// unchanged, as does content equal to the current state.
func (m *Mirror) Sync(ctx context.Context, t Target) error {
	remote, ok := m.Load(ctx)
	if !ok {
		return nil
	}
	if same(remote, t.State().Fields()) {
		return nil
	}
	if err := t.ReplaceState(ctx, remote); err != nil {
		return fmt.Errorf("apply remote state: %w", err)
	}
	return nil
}

// Attach seeds the exchange between t and the map: remote state wins when
// present, otherwise the current state of t is published.
func (m *Mirror) Attach(ctx context.Context, t Target) error {
	if _, ok := m.Load(ctx); ok {
		return m.Sync(ctx, t)
	}
	return m.Publish(ctx, t.State().Fields())
}

// Watch applies remote changes to t until ctx is canceled or the map stops.
// Errors applying a change are logged and do not stop the loop.
func (m *Mirror) Watch(ctx context.Context, t Target) {
	events := m.m.Subscribe()
	defer m.m.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if err := m.Sync(ctx, t); err != nil {
				m.logger.Error(ctx, "sync shared state", "err", err)
			}
		}
	}
}

// Sessions lists the session IDs whose state is held by the map.
func (m *Mirror) Sessions() []string {
	var ids []string
	for _, k := range m.m.Keys() {
		if id, ok := strings.CutPrefix(k, keyPrefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// same compares two field sets by their JSON encoding so that local values
// (int, typed maps) match their decoded remote form.
func same(a, b map[string]any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
