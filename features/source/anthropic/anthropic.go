// Package anthropic turns an Anthropic Messages stream into render stream
// events. Each assistant message is one turn, identified by the message ID.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"goa.design/callview/features/source"
	"goa.design/callview/runtime/render/stream"
)

// Translator converts Anthropic streaming events into render events. It is
// not safe for concurrent use.
type Translator struct {
	sessionID string
	emit      source.Emit

	turn  string
	calls map[int64]*source.Call
}

// NewTranslator returns a translator emitting events for sessionID.
func NewTranslator(sessionID string, emit source.Emit) *Translator {
	return &Translator{sessionID: sessionID, emit: emit, calls: make(map[int64]*source.Call)}
}

// Turn returns the ID of the current turn.
func (t *Translator) Turn() string { return t.turn }

// Handle processes one streaming event.
func (t *Translator) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		t.turn = ev.Message.ID
		if t.turn == "" {
			t.turn = uuid.NewString()
		}
		t.calls = make(map[int64]*source.Call)
		return nil
	case sdk.ContentBlockStartEvent:
		toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock)
		if !ok {
			return nil
		}
		if toolUse.Name == "" {
			return fmt.Errorf("anthropic stream: tool use block %q missing name", toolUse.ID)
		}
		c := &source.Call{ID: toolUse.ID, Name: toolUse.Name}
		t.calls[ev.Index] = c
		return t.emitter().Start(c)
	case sdk.ContentBlockDeltaEvent:
		delta, ok := ev.Delta.AsAny().(sdk.InputJSONDelta)
		if !ok || delta.PartialJSON == "" {
			return nil
		}
		c := t.calls[ev.Index]
		if c == nil {
			return nil
		}
		if args, ok := c.Append(delta.PartialJSON); ok {
			return t.emitter().Args(c, args)
		}
		return nil
	case sdk.ContentBlockStopEvent:
		c := t.calls[ev.Index]
		if c == nil {
			return nil
		}
		delete(t.calls, ev.Index)
		return t.emitter().Complete(c, "")
	case sdk.MessageStopEvent:
		t.calls = make(map[int64]*source.Call)
		return nil
	}
	return nil
}

func (t *Translator) emitter() source.Emitter {
	if t.turn == "" {
		t.turn = uuid.NewString()
	}
	return source.Emitter{RunID: t.turn, SessionID: t.sessionID, Emit: t.emit}
}

// Stream reads s until it ends or ctx is canceled and sends the resulting
// events to out. s is closed on return. The returned error is nil when the
// stream ended normally.
func Stream(ctx context.Context, s *ssestream.Stream[sdk.MessageStreamEventUnion], sessionID string, out chan<- stream.Event) error {
	defer func() { _ = s.Close() }()
	tr := NewTranslator(sessionID, source.Channel(ctx, out))
	for s.Next() {
		if err := tr.Handle(s.Current()); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return ctx.Err()
}
