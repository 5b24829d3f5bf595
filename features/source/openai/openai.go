// Package openai turns an OpenAI Chat Completions stream into render stream
// events. The completion ID of the chunks identifies the turn.
package openai

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/callview/features/source"
	"goa.design/callview/runtime/render/stream"
)

// Translator converts chat completion chunks into render events. Only the
// first choice is followed. It is not safe for concurrent use.
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

// Handle processes one chunk.
func (t *Translator) Handle(chunk openai.ChatCompletionChunk) error {
	if chunk.ID != "" && chunk.ID != t.turn {
		t.turn = chunk.ID
		t.calls = make(map[int64]*source.Call)
	}
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		for _, tc := range choice.Delta.ToolCalls {
			if err := t.toolDelta(tc); err != nil {
				return err
			}
		}
		if choice.FinishReason != "" {
			return t.flush()
		}
	}
	return nil
}

func (t *Translator) toolDelta(tc openai.ChatCompletionChunkChoiceDeltaToolCall) error {
	c := t.calls[tc.Index]
	if c == nil {
		if tc.Function.Name == "" {
			return fmt.Errorf("openai stream: tool call %d missing name", tc.Index)
		}
		c = &source.Call{ID: tc.ID, Name: tc.Function.Name}
		t.calls[tc.Index] = c
		if err := t.emitter().Start(c); err != nil {
			return err
		}
	}
	if tc.Function.Arguments == "" {
		return nil
	}
	if args, ok := c.Append(tc.Function.Arguments); ok {
		return t.emitter().Args(c, args)
	}
	return nil
}

// flush completes the open calls in the order the model opened them.
func (t *Translator) flush() error {
	idxs := make([]int64, 0, len(t.calls))
	for idx := range t.calls {
		idxs = append(idxs, idx)
	}
	slices.Sort(idxs)
	for _, idx := range idxs {
		c := t.calls[idx]
		delete(t.calls, idx)
		if err := t.emitter().Complete(c, ""); err != nil {
			return err
		}
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
// events to out. s is closed on return. Calls still open when the stream
// ends without a finish reason are completed.
func Stream(ctx context.Context, s *ssestream.Stream[openai.ChatCompletionChunk], sessionID string, out chan<- stream.Event) error {
	defer func() { _ = s.Close() }()
	tr := NewTranslator(sessionID, source.Channel(ctx, out))
	for s.Next() {
		if err := tr.Handle(s.Current()); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tr.flush()
}
