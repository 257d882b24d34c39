// Package gateway multiplexes browser WebSocket connections onto agent
// sessions and fans file changes out to every connection.
package gateway

import (
	"log/slog"
	"sync"
)

// Registry tracks live connections by id. Each key has a single writer: the
// connection's own handler, which registers on open and unregisters on close.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{active: make(map[string]*Conn), logger: logger}
}

// Register adds a connection, closing any other connection using the same id.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[c.ID()]; ok && existing != c {
		existing.Close()
	}
	r.active[c.ID()] = c
	r.logger.Info("Connection registered", "conn_id", c.ID(), "connections", len(r.active))
}

// Unregister removes c if it is still the registered connection for its id.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[c.ID()]; ok && current == c {
		delete(r.active, c.ID())
		r.logger.Info("Connection unregistered", "conn_id", c.ID(), "connections", len(r.active))
	}
}

// Snapshot returns the registered connections.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.active))
	for _, c := range r.active {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
