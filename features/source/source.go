// Package source holds the pieces shared by the provider adapters in its
// subpackages. An adapter reads a model provider's streaming response and
// emits the tool call lifecycle as render stream events: a ToolCallStart when
// the model opens a tool call, ToolCallArgsDelta events as the streamed
// argument JSON grows (partial documents are closed before decoding), and a
// ToolStatus EXECUTING event once the arguments are complete. Tool results
// are produced by whoever executes the tool and are not part of the model
// stream.
package source

import (
	"context"
	"encoding/json"
	"maps"
	"strings"

	"goa.design/callview/runtime/render/stream"
)

type (
	// Emit delivers one event. Returning an error stops the adapter.
	Emit func(stream.Event) error

	// Call tracks one open tool call while its arguments stream in.
	Call struct {
		// ID is the provider assigned tool call ID.
		ID string
		// Name is the tool name.
		Name string

		buf  strings.Builder
		last map[string]any
	}

	// Emitter builds render events for one turn of one session.
	Emitter struct {
		RunID     string
		SessionID string
		Emit      Emit
	}
)

// Append adds a fragment of argument JSON. It returns the decoded arguments
// when they differ from the last ones returned. Truncated text is closed
// before decoding: a string value being streamed is reported as far as it
// goes, while members whose key, number or literal is still incomplete are
// left out until they complete.
func (c *Call) Append(fragment string) (map[string]any, bool) {
	c.buf.WriteString(fragment)
	return c.decoded()
}

// Set replaces the accumulated text, for providers that resend the whole
// argument document.
func (c *Call) Set(text string) (map[string]any, bool) {
	c.buf.Reset()
	c.buf.WriteString(text)
	return c.decoded()
}

// Args returns the last decoded arguments.
func (c *Call) Args() map[string]any { return c.last }

func (c *Call) decoded() (map[string]any, bool) {
	text := strings.TrimSpace(c.buf.String())
	if text == "" {
		return nil, false
	}
	args, ok := decodeObject(text)
	if !ok {
		for _, candidate := range closePartial(text) {
			if args, ok = decodeObject(candidate); ok && len(args) > 0 {
				break
			}
		}
		if !ok || len(args) == 0 {
			return nil, false
		}
	}
	if c.last != nil && maps.EqualFunc(c.last, args, sameValue) {
		return nil, false
	}
	c.last = args
	return args, true
}

func decodeObject(text string) (map[string]any, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil || args == nil {
		return nil, false
	}
	return args, true
}

// Start emits the ToolCallStart event of c.
func (e Emitter) Start(c *Call) error {
	return e.Emit(stream.NewToolCallStart(e.RunID, e.SessionID, stream.ToolCallStartPayload{
		ToolRef: ref(c),
	}))
}

// Args emits a ToolCallArgsDelta event.
func (e Emitter) Args(c *Call, args map[string]any) error {
	return e.Emit(stream.NewToolCallArgsDelta(e.RunID, e.SessionID, stream.ToolCallArgsDeltaPayload{
		ToolRef: ref(c),
		Args:    args,
	}))
}

// Executing emits the status change that closes argument streaming.
func (e Emitter) Executing(c *Call) error {
	return e.Emit(stream.NewToolStatus(e.RunID, e.SessionID, stream.ToolStatusPayload{
		ToolRef: ref(c),
		Status:  "executing",
	}))
}

// Complete flushes c: it emits arguments that have not been emitted yet and
// moves the call to EXECUTING.
func (e Emitter) Complete(c *Call, final string) error {
	if final != "" {
		if args, ok := c.Set(final); ok {
			if err := e.Args(c, args); err != nil {
				return err
			}
		}
	}
	return e.Executing(c)
}

// Channel returns an Emit that sends to out, giving up when ctx is done.
func Channel(ctx context.Context, out chan<- stream.Event) Emit {
	return func(ev stream.Event) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
			return nil
		}
	}
}

func ref(c *Call) stream.ToolRef {
	return stream.ToolRef{ToolCallID: c.ID, ToolName: c.Name}
}

func sameValue(a, b any) bool {
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
