package pulse

import (
	"context"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
	"goa.design/callview/runtime/render/stream"
	"goa.design/callview/runtime/render/telemetry"
)

type (
	// EnvelopeDecoder converts a Pulse entry payload into an inbound event.
	EnvelopeDecoder func([]byte) (stream.Event, error)

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName names the Pulse consumer group. Defaults to
		// "callview_renderer".
		SinkName string
		// Buffer is the capacity of the event channel. Defaults to 64.
		Buffer int
		// Decoder decodes entry payloads. Defaults to stream.Decode.
		Decoder EnvelopeDecoder
		// Logger reports skipped entries. Defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Subscriber reads inbound events from Pulse streams. The events channel
	// it returns can be handed directly to session.Session.Run.
	Subscriber struct {
		client clientspulse.Client
		name   string
		buffer int
		decode EnvelopeDecoder
		logger telemetry.Logger
	}
)

// NewSubscriber returns a Subscriber. opts.Client is required.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client: opts.Client,
		name:   opts.SinkName,
		buffer: opts.Buffer,
		decode: opts.Decoder,
		logger: opts.Logger,
	}
	if s.name == "" {
		s.name = "callview_renderer"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.decode == nil {
		s.decode = stream.Decode
	}
	if s.logger == nil {
		s.logger = telemetry.NoopLogger{}
	}
	return s, nil
}

// Subscribe opens the consumer group on streamID and starts delivering
// decoded events. Entries that cannot be decoded are acknowledged, logged and
// reported on the error channel without stopping consumption; an Ack failure
// stops it. The cancel function stops consumption and closes both channels.
//
//	events, errs, cancel, err := sub.Subscribe(ctx, "session/abc")
//	defer cancel()
//	go sess.Run(ctx, events)
func (s *Subscriber) Subscribe(ctx context.Context, streamID string, opts ...streamopts.Sink) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan stream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consume(runCtx, sink, events, errs)
	}()
	return events, errs, func() {
		cancel()
		<-done
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- stream.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			ev, err := s.decode(entry.Payload)
			if err != nil {
				s.logger.Warn(ctx, "skipping undecodable stream entry", "id", entry.ID, "err", err)
				report(errs, fmt.Errorf("pulse decode entry %s: %w", entry.ID, err))
			} else {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if err := sink.Ack(ctx, entry); err != nil {
				report(errs, fmt.Errorf("pulse ack: %w", err))
				return
			}
		}
	}
}

// report delivers err without blocking; the channel keeps the first error.
func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
