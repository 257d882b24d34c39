package gateway

import (
	"log/slog"

	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

// Broadcaster offers one message to every registered connection. Delivery is
// best effort: closed or backed-up connections are skipped, never retried.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast encodes m once and returns how many connections accepted it.
func (b *Broadcaster) Broadcast(m protocol.Outbound) int {
	data, err := protocol.Encode(m)
	if err != nil {
		b.logger.Error("Failed to encode broadcast", "type", string(m.OutboundType()), "error", err)
		return 0
	}
	delivered := 0
	for _, c := range b.registry.Snapshot() {
		if c.TrySend(data) {
			delivered++
		}
	}
	return delivered
}

// FileChanged broadcasts a watcher event.
func (b *Broadcaster) FileChanged(ev filechange.Change) {
	n := b.Broadcast(protocol.FileChanged{File: ev.File, EventType: ev.Kind, Role: ev.Role})
	b.logger.Info("File change broadcast", "file", ev.File, "kind", string(ev.Kind), "role", string(ev.Role), "delivered", n)
}
