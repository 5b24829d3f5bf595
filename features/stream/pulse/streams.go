package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
)

// Streams shares one Pulse client between the inbound event sink, the
// subscribers feeding render sessions and the output publishers.
type Streams struct {
	client clientspulse.Client
	sink   *EventSink
}

// NewStreams returns a Streams helper. sinkOpts.Client is ignored and
// replaced by client.
func NewStreams(client clientspulse.Client, sinkOpts Options) (*Streams, error) {
	if client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts.Client = client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{client: client, sink: sink}, nil
}

// Sink returns the inbound event sink.
func (s *Streams) Sink() *EventSink { return s.sink }

// NewSubscriber returns a subscriber reading with the shared client.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// NewPublisher returns an output publisher writing with the shared client.
func (s *Streams) NewPublisher(opts PublisherOptions) (*Publisher, error) {
	opts.Client = s.client
	return NewPublisher(opts)
}

// Close closes the shared client. Cancel subscribers first.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
