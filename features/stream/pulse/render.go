package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/sharedstate"
)

type (
	// PublisherOptions configures a Publisher.
	PublisherOptions struct {
		// Client is the Pulse client. Required.
		Client clientspulse.Client
		// Stream names the output stream. Required.
		Stream string
		// SessionID is stamped on every published record.
		SessionID string
		// RatePerSecond paces publishing. Zero or negative disables pacing.
		RatePerSecond float64
		// Burst is the number of records that may be published back to back.
		// Defaults to 1.
		Burst int
		// Content converts renderer output into a JSON-friendly value.
		// Defaults to the identity function.
		Content func(any) any
	}

	// Publisher republishes dispatcher outputs and shared state snapshots to
	// a Pulse stream. It implements session.Presenter and
	// session.StatePresenter.
	Publisher struct {
		stream    clientspulse.Stream
		sessionID string
		limiter   *rate.Limiter
		content   func(any) any
	}

	// Record is the JSON document published for each output or snapshot.
	Record struct {
		Type      string         `json:"type"`
		SessionID string         `json:"session_id,omitempty"`
		RunID     string         `json:"run_id,omitempty"`
		CallID    string         `json:"call_id,omitempty"`
		ToolName  string         `json:"tool_name,omitempty"`
		Status    string         `json:"status,omitempty"`
		Mode      string         `json:"mode,omitempty"`
		Revision  int            `json:"revision,omitempty"`
		Content   any            `json:"content,omitempty"`
		State     map[string]any `json:"state,omitempty"`
		Timestamp time.Time      `json:"timestamp"`
	}
)

const (
	// RecordRender is the type of records carrying a dispatcher output.
	RecordRender = "render"
	// RecordState is the type of records carrying a shared state snapshot.
	RecordState = "state"
)

// NewPublisher opens the output stream and returns a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.Stream == "" {
		return nil, errors.New("render stream name is required")
	}
	str, err := opts.Client.Stream(opts.Stream)
	if err != nil {
		return nil, err
	}
	p := &Publisher{stream: str, sessionID: opts.SessionID, content: opts.Content}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if p.content == nil {
		p.content = func(v any) any { return v }
	}
	return p, nil
}

// Present publishes a render record for out.
func (p *Publisher) Present(ctx context.Context, out dispatch.Output) error {
	return p.publish(ctx, Record{
		Type:      RecordRender,
		SessionID: p.sessionID,
		RunID:     out.Identity.Turn,
		CallID:    out.Identity.Call,
		ToolName:  out.ToolName,
		Status:    out.Status.String(),
		Mode:      string(out.Mode),
		Revision:  out.Revision,
		Content:   p.content(out.Content),
		Timestamp: time.Now().UTC(),
	})
}

// PresentState publishes a state record for snap.
func (p *Publisher) PresentState(ctx context.Context, snap sharedstate.Snapshot) error {
	return p.publish(ctx, Record{
		Type:      RecordState,
		SessionID: p.sessionID,
		State:     snap.Fields(),
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, rec Record) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace %s record: %w", rec.Type, err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Type, err)
	}
	_, err = p.stream.Add(ctx, rec.Type, data)
	return err
}
