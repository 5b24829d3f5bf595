package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/callview/runtime/render/stream"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

var weatherEvents = []string{
	`{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","content":[],"model":"claude"}}`,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking."}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"locat"}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"ion\": \"Tok"}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"yo\"}"}}`,
	`{"type":"content_block_stop","index":1}`,
	`{"type":"message_stop"}`,
}

func unions(t *testing.T, raws []string) []sdk.MessageStreamEventUnion {
	t.Helper()
	out := make([]sdk.MessageStreamEventUnion, len(raws))
	for i, raw := range raws {
		require.NoError(t, json.Unmarshal([]byte(raw), &out[i]), raw)
	}
	return out
}

func TestTranslatorToolCall(t *testing.T) {
	var got []stream.Event
	tr := NewTranslator("s1", func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	})
	for _, ev := range unions(t, weatherEvents) {
		require.NoError(t, tr.Handle(ev))
	}

	require.Len(t, got, 4)
	start, ok := got[0].(stream.ToolCallStart)
	require.True(t, ok)
	assert.Equal(t, "msg_01", start.RunID())
	assert.Equal(t, "s1", start.SessionID())
	assert.Equal(t, "toolu_1", start.Data.ToolCallID)
	assert.Equal(t, "get_weather", start.Data.ToolName)

	partial, ok := got[1].(stream.ToolCallArgsDelta)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"location": "Tok"}, partial.Data.Args)
	args, ok := got[2].(stream.ToolCallArgsDelta)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"location": "Tokyo"}, args.Data.Args)

	status, ok := got[3].(stream.ToolStatus)
	require.True(t, ok)
	assert.Equal(t, "executing", status.Data.Status)
	assert.Equal(t, "msg_01", tr.Turn())
}

func TestTranslatorToolUseWithoutName(t *testing.T) {
	tr := NewTranslator("s1", func(stream.Event) error { return nil })
	evs := unions(t, []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"","input":{}}}`,
	})
	assert.Error(t, tr.Handle(evs[0]))
}

func TestTranslatorEmitErrorStops(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTranslator("s1", func(stream.Event) error { return boom })
	evs := unions(t, weatherEvents)
	require.NoError(t, tr.Handle(evs[0]))
	assert.ErrorIs(t, tr.Handle(evs[4]), boom)
}

func TestStream(t *testing.T) {
	events := make([]ssestream.Event, len(weatherEvents))
	for i, raw := range weatherEvents {
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(raw), &head))
		events[i] = ssestream.Event{Type: head.Type, Data: []byte(raw)}
	}
	s := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)

	out := make(chan stream.Event, 8)
	require.NoError(t, Stream(context.Background(), s, "s1", out))
	close(out)

	var types []stream.EventType
	for ev := range out {
		types = append(types, ev.Type())
	}
	assert.Equal(t, []stream.EventType{
		stream.EventToolCallStart,
		stream.EventToolCallArgsDelta,
		stream.EventToolCallArgsDelta,
		stream.EventToolStatus,
	}, types)
}

func TestStreamDecoderError(t *testing.T) {
	s := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{err: errors.New("reset")}, nil)
	err := Stream(context.Background(), s, "s1", make(chan stream.Event, 1))
	assert.ErrorContains(t, err, "reset")
}
