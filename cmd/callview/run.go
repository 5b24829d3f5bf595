package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"goa.design/callview/features/render/cards"
	"goa.design/callview/features/state/replicated"
	streampulse "goa.design/callview/features/stream/pulse"
	clientspulse "goa.design/callview/features/stream/pulse/clients/pulse"
	"goa.design/callview/runtime/render/session"
	"goa.design/callview/runtime/render/stream"
	"goa.design/callview/runtime/render/telemetry"
	"goa.design/callview/runtime/render/tools"
)

type config struct {
	ToolsFile  string
	EventsFile string
	Stream     string
	SessionID  string
	Forward    bool
	Width      int
	List       bool

	RedisURL      string
	RedisPassword string
	StateMap      string
	RenderStream  string
	PublishRPS    float64
}

// stateDefaults seeds the shared state read by the status line.
var stateDefaults = map[string]any{"lastToolUsed": nil, "lastQuery": nil}

func run(ctx context.Context, cfg config, stdin io.Reader, stdout io.Writer) error {
	theme := cards.NewTheme(cfg.Width)
	registry, err := buildRegistry(theme, cfg.ToolsFile)
	if err != nil {
		return err
	}
	if cfg.List {
		return listTools(stdout, registry)
	}
	if (cfg.EventsFile == "") == (cfg.Stream == "") {
		return usageError("exactly one of -events or -stream is required")
	}
	if cfg.Forward && cfg.EventsFile == "" {
		return usageError("-forward requires -events")
	}

	var rdb *redis.Client
	if cfg.Stream != "" || cfg.Forward || cfg.StateMap != "" || cfg.RenderStream != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Errorf(ctx, err, "close redis")
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	var events <-chan stream.Event
	var replayErr <-chan error
	if cfg.EventsFile != "" {
		r, closeFn, err := openEvents(cfg.EventsFile, stdin)
		if err != nil {
			return err
		}
		defer closeFn()
		events, replayErr = replay(ctx, r)
		if cfg.SessionID == "" && !cfg.Forward {
			cfg.SessionID, events = peekSession(ctx, events)
		}
	}

	if cfg.Forward {
		return forward(ctx, rdb, events, replayErr)
	}

	logger := telemetry.NewClueLogger()
	out := newPrinter(stdout)
	opts := []session.Option{
		session.WithStateDefaults(stateDefaults),
		session.WithPresenter(out),
		session.WithErrorRenderer(theme.Failure),
		session.WithLogger(logger),
		session.WithMetrics(telemetry.NewOTELMetrics()),
		session.WithTracer(telemetry.NewOTELTracer()),
	}
	if cfg.SessionID != "" {
		opts = append(opts, session.WithID(cfg.SessionID))
	}

	var streams *streampulse.Streams
	if rdb != nil {
		client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
		if err != nil {
			return err
		}
		streams, err = streampulse.NewStreams(client, streampulse.Options{})
		if err != nil {
			return err
		}
		defer func() {
			if err := streams.Close(context.Background()); err != nil {
				log.Errorf(ctx, err, "close pulse streams")
			}
		}()
	}

	if cfg.RenderStream != "" {
		pub, err := streams.NewPublisher(streampulse.PublisherOptions{
			Stream:        cfg.RenderStream,
			SessionID:     cfg.SessionID,
			RatePerSecond: cfg.PublishRPS,
			Burst:         5,
		})
		if err != nil {
			return fmt.Errorf("open render stream: %w", err)
		}
		opts = append(opts, session.WithPresenter(pub))
	}

	sess, err := session.New(registry, opts...)
	if err != nil {
		return err
	}
	log.Info(ctx, log.KV{K: "session", V: sess.ID()}, log.KV{K: "tools", V: registry.Len()})

	if cfg.StateMap != "" {
		m, err := rmap.Join(ctx, cfg.StateMap, rdb)
		if err != nil {
			return fmt.Errorf("join state map %q: %w", cfg.StateMap, err)
		}
		defer m.Close()
		mirror := replicated.New(m, replicated.WithKey(replicated.SessionKey(sess.ID())), replicated.WithLogger(logger))
		if err := mirror.Attach(ctx, sess); err != nil {
			return fmt.Errorf("attach state map: %w", err)
		}
		sess.AddPresenter(mirror)
		go mirror.Watch(ctx, sess)
	}

	if cfg.Stream != "" {
		sub, err := streams.NewSubscriber(streampulse.SubscriberOptions{Logger: logger})
		if err != nil {
			return err
		}
		var errs <-chan error
		var stop context.CancelFunc
		events, errs, stop, err = sub.Subscribe(ctx, cfg.Stream)
		if err != nil {
			return fmt.Errorf("subscribe to %q: %w", cfg.Stream, err)
		}
		defer stop()
		go func() {
			for err := range errs {
				log.Errorf(ctx, err, "stream entry")
			}
		}()
	}

	if err := sess.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if replayErr != nil {
		if err := <-replayErr; err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry registers the demo tools and the declarations of path.
// Declared tools without a dedicated card render as JSON.
func buildRegistry(theme *cards.Theme, path string) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := reg.RegisterAll(theme.Catalog()...); err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}
	decls, err := tools.LoadDeclarationsFile(path)
	if err != nil {
		return nil, err
	}
	regs, err := tools.Bind(decls, theme.Renderers(), theme.JSON)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterAll(regs...); err != nil {
		return nil, err
	}
	return reg, nil
}

func listTools(w io.Writer, reg *tools.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAVAILABILITY\tRUNS\tREQUIRED\tDESCRIPTION")
	for _, r := range reg.Registrations() {
		runs := "agent"
		if r.ExecutesLocally() {
			runs = "local"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", r.Name, r.Availability, runs, r.RequiredParams(), r.Description)
	}
	return tw.Flush()
}

func openEvents(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open events: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// peekSession returns the session ID of the first event together with a
// channel delivering all the events, the first one included.
// The forwarding stops when ctx is canceled.
func peekSession(ctx context.Context, events <-chan stream.Event) (string, <-chan stream.Event) {
	out := make(chan stream.Event, 1)
	var first stream.Event
	select {
	case <-ctx.Done():
		close(out)
		return "", out
	case ev, ok := <-events:
		if !ok {
			close(out)
			return "", out
		}
		first = ev
	}
	out <- first
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return first.SessionID(), out
}

// forward publishes replayed events to their session streams.
func forward(ctx context.Context, rdb *redis.Client, events <-chan stream.Event, replayErr <-chan error) error {
	client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return err
	}
	sink, err := streampulse.NewSink(streampulse.Options{Client: client})
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close(context.Background()) }()
	n := 0
	for ev := range events {
		if err := sink.Send(ctx, ev); err != nil {
			return fmt.Errorf("forward %s event: %w", ev.Type(), err)
		}
		n++
	}
	log.Info(ctx, log.KV{K: "forwarded", V: n})
	return <-replayErr
}
