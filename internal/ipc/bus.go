package ipc

import (
	"errors"
	"sync"
)

// ErrClosed is returned when posting on a closed bus.
var ErrClosed = errors.New("ipc bus closed")

// Bus is one endpoint of a named channel. A message posted on an endpoint is
// delivered at most once to every other endpoint of the same name, never back
// to the poster. Delivery is not acknowledged.
type Bus interface {
	Post(m Message) error
	// Subscribe registers fn for incoming messages and returns a function
	// that removes it.
	Subscribe(fn func(Message)) (unsubscribe func())
	Close() error
}

// Hub hands out in-process bus endpoints. Handlers run on the posting
// goroutine.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string][]*endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string][]*endpoint)}
}

// Open joins the channel called name.
func (h *Hub) Open(name string) Bus {
	ep := &endpoint{hub: h, name: name, subs: make(map[int]func(Message))}
	h.mu.Lock()
	h.endpoints[name] = append(h.endpoints[name], ep)
	h.mu.Unlock()
	return ep
}

func (h *Hub) peers(name string, self *endpoint) []*endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*endpoint, 0, len(h.endpoints[name]))
	for _, ep := range h.endpoints[name] {
		if ep != self {
			out = append(out, ep)
		}
	}
	return out
}

func (h *Hub) leave(self *endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := h.endpoints[self.name]
	for i, ep := range eps {
		if ep == self {
			h.endpoints[self.name] = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	if len(h.endpoints[self.name]) == 0 {
		delete(h.endpoints, self.name)
	}
}

type endpoint struct {
	hub  *Hub
	name string

	mu     sync.Mutex
	next   int
	subs   map[int]func(Message)
	closed bool
}

func (e *endpoint) Post(m Message) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, peer := range e.hub.peers(e.name, e) {
		peer.deliver(m)
	}
	return nil
}

func (e *endpoint) deliver(m Message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	handlers := make([]func(Message), 0, len(e.subs))
	for i := 0; i < e.next; i++ {
		if fn, ok := e.subs[i]; ok {
			handlers = append(handlers, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(m)
	}
}

func (e *endpoint) Subscribe(fn func(Message)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.subs = map[int]func(Message){}
	e.mu.Unlock()
	e.hub.leave(e)
	return nil
}
