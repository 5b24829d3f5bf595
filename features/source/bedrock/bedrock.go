// Package bedrock turns an AWS Bedrock ConverseStream response into render
// stream events. Bedrock does not expose a message ID on the stream, so each
// MessageStart opens a turn with a fresh ID.
package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"goa.design/callview/features/source"
	"goa.design/callview/runtime/render/stream"
)

// Translator converts ConverseStream events into render events. It is not
// safe for concurrent use.
type Translator struct {
	sessionID string
	emit      source.Emit
	newID     func() string

	turn  string
	calls map[int32]*source.Call
}

// NewTranslator returns a translator emitting events for sessionID.
func NewTranslator(sessionID string, emit source.Emit) *Translator {
	return &Translator{
		sessionID: sessionID,
		emit:      emit,
		newID:     uuid.NewString,
		calls:     make(map[int32]*source.Call),
	}
}

// Turn returns the ID of the current turn.
func (t *Translator) Turn() string { return t.turn }

// Handle processes one streaming event.
func (t *Translator) Handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		t.turn = t.newID()
		t.calls = make(map[int32]*source.Call)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		name := aws.ToString(toolUse.Value.Name)
		if name == "" {
			return fmt.Errorf("bedrock: tool use block %d missing name", idx)
		}
		c := &source.Call{ID: aws.ToString(toolUse.Value.ToolUseId), Name: name}
		t.calls[idx] = c
		return t.emitter().Start(c)
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		delta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberToolUse)
		if !ok || delta.Value.Input == nil {
			return nil
		}
		c := t.calls[idx]
		if c == nil {
			return nil
		}
		if args, ok := c.Append(*delta.Value.Input); ok {
			return t.emitter().Args(c, args)
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		c := t.calls[idx]
		if c == nil {
			return nil
		}
		delete(t.calls, idx)
		return t.emitter().Complete(c, "")
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		t.calls = make(map[int32]*source.Call)
		return nil
	}
	return nil
}

func (t *Translator) emitter() source.Emitter {
	if t.turn == "" {
		t.turn = t.newID()
	}
	return source.Emitter{RunID: t.turn, SessionID: t.sessionID, Emit: t.emit}
}

// Stream reads es until it ends or ctx is canceled and sends the resulting
// events to out. es is closed on return.
func Stream(ctx context.Context, es *bedrockruntime.ConverseStreamEventStream, sessionID string, out chan<- stream.Event) error {
	defer func() { _ = es.Close() }()
	return drain(ctx, es.Events(), es.Err, NewTranslator(sessionID, source.Channel(ctx, out)))
}

func drain(ctx context.Context, events <-chan brtypes.ConverseStreamOutput, errFn func() error, tr *Translator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := errFn(); err != nil {
					return fmt.Errorf("bedrock stream: %w", err)
				}
				return nil
			}
			if err := tr.Handle(event); err != nil {
				return err
			}
		}
	}
}

func contentIndex(idx *int32) (int32, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock: content block index missing")
	}
	return *idx, nil
}
