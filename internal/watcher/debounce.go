package watcher

import (
	"sync"
	"time"

	"github.com/chatooly/toolbuilder/internal/clock"
)

// debouncer coalesces bursts per path into one trailing emission carrying the
// latest event.
type debouncer struct {
	clock  clock.Clock
	window time.Duration
	emit   func(Event)

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	ev    Event
	timer clock.Timer
}

func newDebouncer(c clock.Clock, window time.Duration, emit func(Event)) *debouncer {
	return &debouncer{
		clock:   c,
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingEvent),
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[ev.File]; ok {
		p.timer.Stop()
	}
	p := &pendingEvent{ev: ev}
	p.timer = d.clock.AfterFunc(d.window, func() { d.fire(ev.File, p) })
	d.pending[ev.File] = p
}

func (d *debouncer) fire(file string, p *pendingEvent) {
	d.mu.Lock()
	if d.pending[file] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, file)
	d.mu.Unlock()

	d.emit(p.ev)
}

// stop drops every pending emission.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for file, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, file)
	}
}
