// Command callview renders the tool calls of an agent conversation as
// terminal cards.
//
// Events are read from a JSONL file of stream envelopes (-events, "-" for
// stdin) or consumed from a Pulse stream (-stream). Every applied event
// re-renders the affected call; the cards are printed as they change,
// followed by the "last tool used" status line whenever the shared state
// changes.
//
// # Configuration
//
// Environment variables:
//
//	REDIS_URL           - Redis address for Pulse streams and rmaps (default: "localhost:6379")
//	REDIS_PASSWORD      - Redis password (optional)
//	STATE_MAP           - rmap mirroring the shared state (optional)
//	RENDER_STREAM       - Pulse stream receiving rendered outputs (optional)
//	RENDER_PUBLISH_RPS  - publish rate limit for RENDER_STREAM (default: 20)
//
// # Example
//
// Replay a recorded conversation:
//
//	callview -events testdata/weather.jsonl
//
// Follow a live session:
//
//	REDIS_URL=localhost:6379 callview -session 2f1c... -stream session/2f1c...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"goa.design/clue/log"
)

func main() {
	var (
		toolsF   = flag.String("tools", "", "YAML tool catalog adding declarations to the demo tools")
		eventsF  = flag.String("events", "", "JSONL event file to replay (\"-\" reads stdin)")
		streamF  = flag.String("stream", "", "Pulse stream to consume events from")
		sessionF = flag.String("session", "", "Session ID (default: random, or taken from the replayed events)")
		forwardF = flag.Bool("forward", false, "Publish replayed events to Pulse instead of rendering them")
		widthF   = flag.Int("width", 60, "Card width")
		listF    = flag.Bool("list", false, "List the registered tools and exit")
		dbgF     = flag.Bool("debug", false, "Log debug messages")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithOutput(os.Stderr))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config{
		ToolsFile:     *toolsF,
		EventsFile:    *eventsF,
		Stream:        *streamF,
		SessionID:     *sessionF,
		Forward:       *forwardF,
		Width:         *widthF,
		List:          *listF,
		RedisURL:      envOr("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StateMap:      os.Getenv("STATE_MAP"),
		RenderStream:  os.Getenv("RENDER_STREAM"),
		PublishRPS:    envFloatOr("RENDER_PUBLISH_RPS", 20),
	}
	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf(ctx, err, "callview")
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("usage: "+format, args...)
}
