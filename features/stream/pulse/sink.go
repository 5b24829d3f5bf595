// Package pulse carries render pipeline traffic over goa.design/pulse
// streams. EventSink publishes inbound events (the agent side), Subscriber
// consumes them (the renderer side) and Publisher republishes rendered
// outputs and shared state for downstream UIs.
package pulse

import (
	"context"
	"errors"
	"fmt"

	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
	"goa.design/callview/runtime/render/stream"
)

type (
	// Options configures an EventSink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// "session/<SessionID>", or "run/<RunID>" for events without a
		// session.
		StreamID func(stream.Event) (string, error)
		// Marshal encodes events. Defaults to stream.Encode.
		Marshal func(stream.Event) ([]byte, error)
	}

	// EventSink publishes inbound events to Pulse. It is safe for concurrent
	// use.
	EventSink struct {
		client   clientspulse.Client
		streamID func(stream.Event) (string, error)
		marshal  func(stream.Event) ([]byte, error)
	}
)

// NewSink returns an EventSink. opts.Client is required.
func NewSink(opts Options) (*EventSink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &EventSink{client: opts.Client, streamID: opts.StreamID, marshal: opts.Marshal}
	if s.streamID == nil {
		s.streamID = DefaultStreamID
	}
	if s.marshal == nil {
		s.marshal = stream.Encode
	}
	return s, nil
}

// Send publishes ev. The Pulse entry name is the event type.
func (s *EventSink) Send(ctx context.Context, ev stream.Event) error {
	id, err := s.streamID(ev)
	if err != nil {
		return err
	}
	h, err := s.client.Stream(id)
	if err != nil {
		return err
	}
	data, err := s.marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	if _, err := h.Add(ctx, string(ev.Type()), data); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying client.
func (s *EventSink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// DefaultStreamID routes events to their session stream, falling back to
// the run stream.
func DefaultStreamID(ev stream.Event) (string, error) {
	if sid := ev.SessionID(); sid != "" {
		return SessionStreamID(sid), nil
	}
	if ev.RunID() == "" {
		return "", errors.New("stream event missing run and session id")
	}
	return "run/" + ev.RunID(), nil
}

// SessionStreamID returns the stream carrying the inbound events of a
// session.
func SessionStreamID(sessionID string) string {
	return "session/" + sessionID
}
