package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/callview/runtime/render/stream"
)

func productEvents() []brtypes.ConverseStreamOutput {
	return []brtypes.ConverseStreamOutput{
		&brtypes.ConverseStreamOutputMemberMessageStart{Value: brtypes.MessageStartEvent{Role: brtypes.ConversationRoleAssistant}},
		&brtypes.ConverseStreamOutputMemberContentBlockStart{Value: brtypes.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(0),
			Start: &brtypes.ContentBlockStartMemberToolUse{Value: brtypes.ToolUseBlockStart{
				Name:      aws.String("search_products"),
				ToolUseId: aws.String("tooluse_1"),
			}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: aws.String(`{"query":"head`)}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: aws.String(`phones","max_price":200}`)}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(0)}},
		&brtypes.ConverseStreamOutputMemberMessageStop{Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse}},
	}
}

func TestTranslatorToolCall(t *testing.T) {
	var got []stream.Event
	tr := NewTranslator("s1", func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	})
	tr.newID = func() string { return "turn-1" }

	for _, ev := range productEvents() {
		require.NoError(t, tr.Handle(ev))
	}

	require.Len(t, got, 4)
	start := got[0].(stream.ToolCallStart)
	assert.Equal(t, "turn-1", start.RunID())
	assert.Equal(t, "tooluse_1", start.Data.ToolCallID)
	assert.Equal(t, "search_products", start.Data.ToolName)
	assert.Equal(t, map[string]any{"query": "head"}, got[1].(stream.ToolCallArgsDelta).Data.Args)
	args := got[2].(stream.ToolCallArgsDelta)
	assert.Equal(t, map[string]any{"query": "headphones", "max_price": float64(200)}, args.Data.Args)
	assert.Equal(t, "executing", got[3].(stream.ToolStatus).Data.Status)
}

func TestTranslatorMissingIndex(t *testing.T) {
	tr := NewTranslator("s1", func(stream.Event) error { return nil })
	err := tr.Handle(&brtypes.ConverseStreamOutputMemberContentBlockStop{})
	assert.ErrorContains(t, err, "index missing")
}

func TestDrain(t *testing.T) {
	events := make(chan brtypes.ConverseStreamOutput, 8)
	for _, ev := range productEvents() {
		events <- ev
	}
	close(events)
	out := make(chan stream.Event, 8)
	tr := NewTranslator("s1", func(ev stream.Event) error {
		out <- ev
		return nil
	})

	require.NoError(t, drain(context.Background(), events, func() error { return nil }, tr))
	assert.Len(t, out, 4)
}

func TestDrainStreamError(t *testing.T) {
	events := make(chan brtypes.ConverseStreamOutput)
	close(events)
	tr := NewTranslator("s1", func(stream.Event) error { return nil })
	err := drain(context.Background(), events, func() error { return errors.New("throttled") }, tr)
	assert.ErrorContains(t, err, "throttled")
}

func TestDrainCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := NewTranslator("s1", func(stream.Event) error { return nil })
	err := drain(ctx, make(chan brtypes.ConverseStreamOutput), func() error { return nil }, tr)
	assert.ErrorIs(t, err, context.Canceled)
}
