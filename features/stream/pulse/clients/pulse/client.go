// Package pulse wraps goa.design/pulse streams behind the small interface
// used by the callview stream adapters. Callers own the Redis connection,
// pass it to New and get back a Client exposing only stream publishing and
// consumer groups, which keeps the adapters testable with in-memory fakes.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the client.
	Options struct {
		// Redis backs the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the entries kept per stream. Zero keeps the
		// Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds each Add call. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases client resources. The Redis connection is owned by
		// the caller and left open.
		Close(ctx context.Context) error
	}

	// Stream publishes entries and opens consumer groups.
	Stream interface {
		// Add appends an entry and returns its Redis ID (e.g. "1234567890-0").
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink opens the consumer group name on the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading a stream.
	Sink interface {
		// Subscribe returns the channel delivering entries.
		Subscribe() <-chan *streaming.Event
		// Ack acknowledges an entry.
		Ack(ctx context.Context, ev *streaming.Event) error
		// Close stops the consumer.
		Close(ctx context.Context)
	}

	client struct {
		rdb     *redis.Client
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	sinkAdapter struct {
		*streaming.Sink
	}
)

// New returns a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &client{rdb: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	if c.maxLen > 0 {
		opts = append([]streamopts.Stream{streamopts.WithStreamMaxLen(c.maxLen)}, opts...)
	}
	s, err := streaming.NewStream(name, c.rdb, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %q: %w", name, err)
	}
	return &handle{stream: s, timeout: c.timeout}, nil
}

func (c *client) Close(context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("pulse: event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add %s: %w", event, err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	s, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open sink %q: %w", name, err)
	}
	return sinkAdapter{Sink: s}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// Close stops the underlying Pulse sink.
func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
