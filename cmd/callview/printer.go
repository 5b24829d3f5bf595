package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"goa.design/callview/features/render/cards"
	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/toolcall"
)

// printer writes cards to a terminal. A card is printed again only when
// its content changed.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	last   map[toolcall.Identity]string
	status string
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, last: make(map[toolcall.Identity]string)}
}

func (p *printer) Present(_ context.Context, out dispatch.Output) error {
	if out.Mode == dispatch.ModeEmpty {
		return nil
	}
	text, ok := out.Content.(string)
	if !ok {
		text = fmt.Sprint(out.Content)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[out.Identity] == text {
		return nil
	}
	p.last[out.Identity] = text
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func (p *printer) PresentState(_ context.Context, snap sharedstate.Snapshot) error {
	line := cards.StatusLine(snap)
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.status {
		return nil
	}
	p.status = line
	_, err := fmt.Fprintln(p.w, line)
	return err
}
