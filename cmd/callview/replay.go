package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"goa.design/clue/log"

	"goa.design/callview/runtime/render/stream"
)

// maxLine bounds the size of one envelope in a replay file.
const maxLine = 4 << 20

// replay decodes one envelope per line of r and delivers the events in file
// order. Blank lines and lines starting with '#' are skipped; lines that do
// not decode are logged and skipped. The error channel receives the read
// error, if any, and is closed once the events channel is closed.
func replay(ctx context.Context, r io.Reader) (<-chan stream.Event, <-chan error) {
	events := make(chan stream.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(events)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 || text[0] == '#' {
				continue
			}
			ev, err := stream.Decode(text)
			if err != nil {
				log.Errorf(ctx, err, "skipping line %d", line)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case events <- ev:
			}
		}
		if err := sc.Err(); err != nil {
			errc <- fmt.Errorf("read events: %w", err)
		}
	}()
	return events, errc
}
