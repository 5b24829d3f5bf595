// Package sharedstate keeps the small key/value state shared between an agent
// and its presentation layer.
//
// The Synchronizer is seeded once with local defaults and then receives
// agent-originated updates, either whole snapshots (Replace) or shallow
// patches (ApplyRemoteUpdate). Every update produces a new immutable
// Snapshot; readers load the current one without locking and keep any
// snapshot they hold for as long as they like.
package sharedstate

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

type (
	// Snapshot is an immutable view of the shared state. The zero value is
	// an empty snapshot. Nested maps and slices are copied on the way in and
	// on the way out, so neither writers nor readers can alter a snapshot.
	Snapshot struct {
		fields  map[string]any
		version uint64
	}

	// Synchronizer owns the current snapshot. Writes are serialized; reads
	// are lock free.
	Synchronizer struct {
		mu      sync.Mutex
		current atomic.Pointer[Snapshot]

		watchMu  sync.Mutex
		watchers map[int]func(Snapshot)
		nextID   int
	}
)

var (
	// ErrNotInitialized is returned by updates applied before Initialize.
	ErrNotInitialized = errors.New("shared state not initialized")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("shared state already initialized")
)

// New returns an uninitialized synchronizer.
func New() *Synchronizer {
	return &Synchronizer{watchers: make(map[int]func(Snapshot))}
}

// Initialize seeds the state with defaults. It must be called exactly once,
// before any update. A nil value marks a key that is known but unset.
func (s *Synchronizer) Initialize(defaults map[string]any) (Snapshot, error) {
	s.mu.Lock()
	if s.current.Load() != nil {
		s.mu.Unlock()
		return Snapshot{}, ErrAlreadyInitialized
	}
	snap := &Snapshot{fields: cloneFields(defaults), version: 1}
	if snap.fields == nil {
		snap.fields = map[string]any{}
	}
	s.current.Store(snap)
	s.notify(*snap)
	s.mu.Unlock()
	return *snap, nil
}

// ApplyRemoteUpdate merges patch into the current state: keys present in
// patch overwrite, absent keys are kept. The previous snapshot is left
// untouched.
func (s *Synchronizer) ApplyRemoteUpdate(patch map[string]any) (Snapshot, error) {
	return s.update(func(cur map[string]any) map[string]any {
		next := maps.Clone(cur)
		maps.Copy(next, cloneFields(patch))
		return next
	})
}

// Replace overwrites the whole state with fields.
func (s *Synchronizer) Replace(fields map[string]any) (Snapshot, error) {
	return s.update(func(map[string]any) map[string]any {
		next := cloneFields(fields)
		if next == nil {
			next = map[string]any{}
		}
		return next
	})
}

// Read returns the current snapshot. It returns the empty snapshot before
// Initialize.
func (s *Synchronizer) Read() Snapshot {
	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return Snapshot{}
}

// Initialized reports whether Initialize was called.
func (s *Synchronizer) Initialized() bool {
	return s.current.Load() != nil
}

// Watch registers fn to be called with every new snapshot, in update order.
// fn runs on the updating goroutine and must not call back into the
// synchronizer's write methods. The returned function unregisters fn.
func (s *Synchronizer) Watch(fn func(Snapshot)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Synchronizer) update(fn func(map[string]any) map[string]any) (Snapshot, error) {
	s.mu.Lock()
	cur := s.current.Load()
	if cur == nil {
		s.mu.Unlock()
		return Snapshot{}, ErrNotInitialized
	}
	next := &Snapshot{fields: fn(cur.fields), version: cur.version + 1}
	s.current.Store(next)
	s.notify(*next)
	s.mu.Unlock()
	return *next, nil
}

// notify runs the watchers in registration order. Callers hold s.mu.
func (s *Synchronizer) notify(snap Snapshot) {
	s.watchMu.Lock()
	ids := slices.Sorted(maps.Keys(s.watchers))
	watchers := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		watchers = append(watchers, s.watchers[id])
	}
	s.watchMu.Unlock()
	for _, w := range watchers {
		w(snap)
	}
}

// Get returns the value stored under key. The boolean is false when the key
// is unknown; a known key holding nil returns (nil, true).
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.fields[key]
	return cloneValue(v), ok
}

// Text returns the value under key when it is a non-empty string.
func (s Snapshot) Text(key string) (string, bool) {
	v, ok := s.fields[key].(string)
	return v, ok && v != ""
}

// Fields returns a deep copy of the snapshot contents.
func (s Snapshot) Fields() map[string]any {
	out := cloneFields(s.fields)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Len returns the number of keys.
func (s Snapshot) Len() int { return len(s.fields) }

// Version increases by one with every update. It is zero for the empty
// snapshot and one right after Initialize.
func (s Snapshot) Version() uint64 { return s.version }

func cloneFields(m map[string]any) map[string]any {
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
		return cloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
