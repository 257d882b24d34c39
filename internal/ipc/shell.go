package ipc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chatooly/toolbuilder/internal/client"
	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

// DefaultSettleDelay lets a burst of edits settle into a single refresh.
const DefaultSettleDelay = 1500 * time.Millisecond

// Frame is the element hosting the tool surface.
type Frame interface {
	// Reload reloads the tool surface wholesale.
	Reload()
	// SetBusy shows or hides the loading overlay.
	SetBusy(bool)
}

// editingTools show the loading overlay while they run.
var editingTools = map[string]bool{"Edit": true, "Write": true, "MultiEdit": true}

// ShellConfig wires a Shell.
type ShellConfig struct {
	Bus         Bus
	Frame       Frame
	View        client.View
	SettleDelay time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Shell is the persistent surface. It renders the chat through a Projector,
// forwards file changes to the tool surface and decides when the tool needs a
// full refresh. Chat state lives only here.
type Shell struct {
	projector *client.Projector
	bus       Bus
	frame     Frame
	view      client.View
	settle    time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	unsub     func()

	mu      sync.Mutex
	changed map[string]filechange.Role
	inTurn  bool
	pending clock.Timer
}

var _ client.Observer = (*Shell)(nil)

// NewShell creates a shell and subscribes it to the bus.
func NewShell(cfg ShellConfig) *Shell {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Shell{
		projector: client.NewProjector(cfg.View),
		bus:       cfg.Bus,
		frame:     cfg.Frame,
		view:      cfg.View,
		settle:    cfg.SettleDelay,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		changed:   make(map[string]filechange.Role),
	}
	s.projector.OnFileChange(s.fileChanged)
	s.unsub = cfg.Bus.Subscribe(s.fromTool)
	return s
}

// UserPrompt echoes a sent prompt into the transcript.
func (s *Shell) UserPrompt(text string) { s.projector.UserPrompt(text) }

// StatusChanged implements client.Observer.
func (s *Shell) StatusChanged(st client.Status) { s.projector.StatusChanged(st) }

// GaveUp implements client.Observer.
func (s *Shell) GaveUp() { s.projector.GaveUp() }

// Message implements client.Observer.
func (s *Shell) Message(m protocol.Outbound) {
	switch m := m.(type) {
	case protocol.Thinking:
		s.mu.Lock()
		s.inTurn = true
		clear(s.changed)
		s.mu.Unlock()
	case protocol.ToolUse:
		if editingTools[m.Tool] {
			s.setBusy(true)
		}
	case protocol.Result:
		refresh := m.Succeeded() && s.endTurn()
		s.setBusy(false)
		if refresh {
			s.scheduleRefresh()
		}
	case protocol.Error:
		if protocol.IsTerminal(m) {
			s.endTurn()
			s.setBusy(false)
		}
	case protocol.Cancelled:
		s.endTurn()
		s.setBusy(false)
	case protocol.ResetComplete:
		s.refreshNow()
	}
	s.projector.Message(m)
}

// endTurn clears the changed-file set and reports whether it held markup.
func (s *Shell) endTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	markup := false
	for _, role := range s.changed {
		if role == filechange.Markup {
			markup = true
		}
	}
	clear(s.changed)
	s.inTurn = false
	return markup
}

func (s *Shell) fileChanged(fc protocol.FileChanged) {
	if err := s.bus.Post(FileChanged(fc.File, fc.EventType)); err != nil {
		s.logger.Debug("Failed to forward file change", "file", fc.File, "error", err)
	}

	ch := fc.Change()
	s.mu.Lock()
	inTurn := s.inTurn
	if inTurn {
		s.changed[ch.File] = ch.Role
	}
	s.mu.Unlock()

	if !inTurn && ch.Role == filechange.Markup {
		s.scheduleRefresh()
	}
}

// scheduleRefresh arms one settle-delayed refresh. Requests made while one is
// pending join it.
func (s *Shell) scheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return
	}
	s.pending = s.clock.AfterFunc(s.settle, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.reloadFrame()
	})
}

func (s *Shell) refreshNow() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
	s.reloadFrame()
}

func (s *Shell) reloadFrame() {
	s.logger.Info("Refreshing tool surface")
	if s.frame != nil {
		s.frame.Reload()
		return
	}
	if err := s.bus.Post(RefreshTool()); err != nil {
		s.logger.Warn("Failed to request tool refresh", "error", err)
	}
}

func (s *Shell) setBusy(busy bool) {
	if s.frame != nil {
		s.frame.SetBusy(busy)
	}
}

func (s *Shell) fromTool(m Message) {
	switch m.Type {
	case TypeToolReady:
		s.logger.Debug("Tool surface ready")
	case TypeToolError:
		msg := m.ErrorMessage()
		if msg == "" {
			msg = "Unknown error"
		}
		s.view.Append(client.Entry{Kind: client.EntryError, Text: "Tool error: " + msg})
	}
}

// Close unsubscribes from the bus and drops any pending refresh.
func (s *Shell) Close() {
	s.unsub()
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
}
