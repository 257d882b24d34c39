package ipc

import (
	"log/slog"

	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/hotreload"
)

// ToolConfig wires a Tool.
type ToolConfig struct {
	Bus      Bus
	Document hotreload.Document
	// Reload reloads the whole tool surface.
	Reload func()
	Clock  clock.Clock
	Logger *slog.Logger
}

// Tool is the sandboxed surface. It hot-reloads the files the shell forwards
// and reports failures back up.
type Tool struct {
	bus      Bus
	reloader *hotreload.Reloader
	reload   func()
	logger   *slog.Logger
	unsub    func()
}

// NewTool creates a tool endpoint. It does not announce itself until Start.
func NewTool(cfg ToolConfig) *Tool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reload == nil {
		cfg.Reload = func() {}
	}
	t := &Tool{bus: cfg.Bus, reload: cfg.Reload, logger: cfg.Logger}
	t.reloader = hotreload.New(cfg.Document, hotreload.Options{
		OnError: t.reportReloadError,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	})
	return t
}

// Start subscribes to the bus and posts tool-ready.
func (t *Tool) Start() error {
	t.unsub = t.bus.Subscribe(t.handle)
	return t.bus.Post(ToolReady())
}

func (t *Tool) handle(m Message) {
	switch m.Type {
	case TypeRefreshTool:
		t.logger.Info("Refresh requested by shell")
		t.reload()
	case TypeFileChanged:
		t.reloader.Apply(filechange.New(m.File, m.EventType))
	}
}

func (t *Tool) reportReloadError(file string, err error) {
	t.logger.Warn("Hot reload failed", "file", file, "error", err)
	if postErr := t.bus.Post(ToolError("Failed to reload script: " + file)); postErr != nil {
		t.logger.Debug("Failed to report tool error", "error", postErr)
	}
}

// Close leaves the bus.
func (t *Tool) Close() error {
	if t.unsub != nil {
		t.unsub()
	}
	return t.bus.Close()
}
