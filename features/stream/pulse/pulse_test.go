package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/payload"
	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/stream"
	"goa.design/callview/runtime/render/toolcall"
)

func TestSinkPublishesEnvelope(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	ev := stream.NewToolEnd("run-1", "sess-1", stream.ToolEndPayload{
		ToolRef: stream.ToolRef{ToolCallID: "call-1", ToolName: "get_weather"},
		Result:  payload.Raw(map[string]any{"temperature": 22.0}),
	})
	require.NoError(t, sink.Send(context.Background(), ev))

	entries := cli.stream("session/sess-1").snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "tool_end", entries[0].event)
	decoded, err := stream.Decode(entries[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "call-1", decoded.(stream.ToolEnd).Data.ToolCallID)

	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, cli.closed)
}

func TestDefaultStreamID(t *testing.T) {
	id, err := DefaultStreamID(stream.NewTurnEnd("run-1", ""))
	require.NoError(t, err)
	assert.Equal(t, "run/run-1", id)

	_, err = DefaultStreamID(stream.NewTurnEnd("", ""))
	assert.Error(t, err)

	_, err = NewSink(Options{})
	assert.Error(t, err)
}

func TestSubscribeDecodesAndAcks(t *testing.T) {
	cli := newFakeClient()
	str := cli.stream("session/sess-1")
	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "session/sess-1")
	require.NoError(t, err)

	data, err := stream.Encode(stream.NewToolStatus("run-1", "sess-1", stream.ToolStatusPayload{
		ToolRef: stream.ToolRef{ToolCallID: "call-1", ToolName: "get_weather"},
		Status:  "executing",
	}))
	require.NoError(t, err)
	str.sink.ch <- &streaming.Event{ID: "1-0", Payload: []byte("garbage")}
	str.sink.ch <- &streaming.Event{ID: "2-0", Payload: data}

	select {
	case ev := <-events:
		status, ok := ev.(stream.ToolStatus)
		require.True(t, ok)
		assert.Equal(t, "executing", status.Data.Status)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "1-0")
	case <-time.After(time.Second):
		t.Fatal("no decode error reported")
	}
	require.Eventually(t, func() bool { return len(str.sink.ackedIDs()) == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.True(t, str.sink.closed)
}

func TestSubscribeStopsOnAckError(t *testing.T) {
	cli := newFakeClient()
	str := cli.stream("s")
	str.sink.ackErr = errors.New("redis down")
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)
	events, errs, cancel, err := sub.Subscribe(context.Background(), "s")
	require.NoError(t, err)
	defer cancel()

	data, err := stream.Encode(stream.NewTurnEnd("run-1", ""))
	require.NoError(t, err)
	str.sink.ch <- &streaming.Event{ID: "1-0", Payload: data}
	<-events
	err = <-errs
	assert.ErrorContains(t, err, "redis down")
	_, open := <-events
	assert.False(t, open)
}

func TestPublisherRecords(t *testing.T) {
	cli := newFakeClient()
	streams, err := NewStreams(cli, Options{})
	require.NoError(t, err)
	pub, err := streams.NewPublisher(PublisherOptions{Stream: "render/sess-1", SessionID: "sess-1", RatePerSecond: 1000, Burst: 10})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Present(ctx, dispatch.Output{
		Identity: toolcall.Identity{Turn: "run-1", Call: "call-1"},
		ToolName: "get_weather",
		Status:   toolcall.StatusComplete,
		Mode:     dispatch.ModeComplete,
		Revision: 3,
		Content:  "Tokyo 22°C",
	}))
	s := sharedstate.New()
	snap, err := s.Initialize(map[string]any{"lastToolUsed": "get_weather"})
	require.NoError(t, err)
	require.NoError(t, pub.PresentState(ctx, snap))

	entries := cli.stream("render/sess-1").snapshot()
	require.Len(t, entries, 2)

	var rec Record
	require.NoError(t, json.Unmarshal(entries[0].payload, &rec))
	assert.Equal(t, RecordRender, rec.Type)
	assert.Equal(t, "call-1", rec.CallID)
	assert.Equal(t, "COMPLETE", rec.Status)
	assert.Equal(t, "complete", rec.Mode)
	assert.Equal(t, "Tokyo 22°C", rec.Content)

	require.NoError(t, json.Unmarshal(entries[1].payload, &rec))
	assert.Equal(t, RecordState, rec.Type)
	assert.Equal(t, "get_weather", rec.State["lastToolUsed"])
}

func TestPublisherPacingHonorsContext(t *testing.T) {
	cli := newFakeClient()
	pub, err := NewPublisher(PublisherOptions{Client: cli, Stream: "render", RatePerSecond: 0.001})
	require.NoError(t, err)

	require.NoError(t, pub.Present(context.Background(), dispatch.Output{}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pub.Present(ctx, dispatch.Output{}))
	assert.Len(t, cli.stream("render").snapshot(), 1)
}

func TestPublisherRequiresStream(t *testing.T) {
	_, err := NewPublisher(PublisherOptions{Client: newFakeClient()})
	assert.Error(t, err)
	_, err = NewStreams(nil, Options{})
	assert.Error(t, err)
}
