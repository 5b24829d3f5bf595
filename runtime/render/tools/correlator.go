package tools

import (
	"sync"

	"github.com/google/uuid"

	"goa.design/callview/runtime/render/toolcall"
)

type (
	// Correlator assigns call identities to streamed tool events. Provider
	// call IDs are used verbatim; events that carry no ID are attributed to
	// the open invocation of the same tool in the same turn. Opening events
	// mint a new identity when none is open; follow-up events fall back to
	// the last finished invocation so late metadata lands on the call it
	// describes.
	Correlator struct {
		mu     sync.Mutex
		open   map[string]map[string]string // turn -> tool -> call
		closed map[string]map[string]string // turn -> tool -> last finished call
		newID  func() string
	}

	// CorrelatorOption configures a Correlator.
	CorrelatorOption func(*Correlator)
)

// WithIDGenerator overrides the function minting call IDs. It defaults to
// uuid.NewString.
func WithIDGenerator(fn func() string) CorrelatorOption {
	return func(c *Correlator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewCorrelator returns an empty correlator.
func NewCorrelator(opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		open:   make(map[string]map[string]string),
		closed: make(map[string]map[string]string),
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the identity of the invocation of tool in turn that an
// opening event (a call start or an argument fragment) belongs to.
// externalID is the provider call ID, possibly empty.
func (c *Correlator) Resolve(turn, tool, externalID string) toolcall.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(turn, tool, externalID, false)
}

// Follow returns the identity of the invocation that a follow-up event
// (status, output, result or metadata) belongs to. Without externalID it
// prefers the open invocation of tool, then the last finished one, and only
// mints a new identity when turn has seen neither.
func (c *Correlator) Follow(turn, tool, externalID string) toolcall.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(turn, tool, externalID, true)
}

// Close marks the invocation id as finished so later ID-less opening events
// for the same tool start a new invocation.
func (c *Correlator) Close(id toolcall.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := c.open[id.Turn]
	for tool, call := range calls {
		if call == id.Call {
			delete(calls, tool)
			closed := c.closed[id.Turn]
			if closed == nil {
				closed = make(map[string]string)
				c.closed[id.Turn] = closed
			}
			closed[tool] = call
		}
	}
	if len(calls) == 0 {
		delete(c.open, id.Turn)
	}
}

// EndTurn forgets every invocation of turn.
func (c *Correlator) EndTurn(turn string) {
	c.mu.Lock()
	delete(c.open, turn)
	delete(c.closed, turn)
	c.mu.Unlock()
}

func (c *Correlator) resolve(turn, tool, externalID string, follow bool) toolcall.Identity {
	if externalID != "" {
		if follow && c.closed[turn][tool] == externalID {
			return toolcall.Identity{Turn: turn, Call: externalID}
		}
		c.openCall(turn, tool, externalID)
		return toolcall.Identity{Turn: turn, Call: externalID}
	}
	if call, ok := c.open[turn][tool]; ok {
		return toolcall.Identity{Turn: turn, Call: call}
	}
	if follow {
		if call, ok := c.closed[turn][tool]; ok {
			return toolcall.Identity{Turn: turn, Call: call}
		}
	}
	call := c.newID()
	c.openCall(turn, tool, call)
	return toolcall.Identity{Turn: turn, Call: call}
}

func (c *Correlator) openCall(turn, tool, call string) {
	calls := c.open[turn]
	if calls == nil {
		calls = make(map[string]string)
		c.open[turn] = calls
	}
	calls[tool] = call
}
