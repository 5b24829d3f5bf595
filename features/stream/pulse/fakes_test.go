package pulse

import (
	"context"
	"fmt"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
)

type (
	fakeClient struct {
		mu      sync.Mutex
		streams map[string]*fakeStream
		closed  bool
	}

	fakeStream struct {
		mu      sync.Mutex
		name    string
		entries []fakeEntry
		sink    *fakeSink
	}

	fakeEntry struct {
		event   string
		payload []byte
	}

	fakeSink struct {
		ch     chan *streaming.Event
		mu     sync.Mutex
		acked  []string
		ackErr error
		closed bool
	}
)

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{name: name, sink: &fakeSink{ch: make(chan *streaming.Event, 16)}}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) stream(name string) *fakeStream {
	s, _ := c.Stream(name)
	return s.(*fakeStream)
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, fakeEntry{event: event, payload: payload})
	return fmt.Sprintf("%d-0", len(s.entries)), nil
}

func (s *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (clientspulse.Sink, error) {
	return s.sink, nil
}

func (s *fakeStream) Destroy(context.Context) error { return nil }

func (s *fakeStream) snapshot() []fakeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeEntry(nil), s.entries...)
}

func (k *fakeSink) Subscribe() <-chan *streaming.Event { return k.ch }

func (k *fakeSink) Ack(_ context.Context, ev *streaming.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ackErr != nil {
		return k.ackErr
	}
	k.acked = append(k.acked, ev.ID)
	return nil
}

func (k *fakeSink) Close(context.Context) {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
}

func (k *fakeSink) ackedIDs() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.acked...)
}
