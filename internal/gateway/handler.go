package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/chatooly/toolbuilder/internal/agent"
	"github.com/chatooly/toolbuilder/internal/protocol"
	"github.com/chatooly/toolbuilder/internal/transcript"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MissingAPIKeyMessage is sent in reply to a chat when no API key is configured.
const MissingAPIKeyMessage = "ANTHROPIC_API_KEY not configured. Please add your API key to the .env file."

// defaultReadLimit fits five 5 MiB attachments as base64 plus the prompt.
const defaultReadLimit = 5*(5<<20)*4/3 + 1<<20

// ErrResetUnavailable is returned by Reset when no template is configured.
var ErrResetUnavailable = errors.New("reset is not available")

// SessionFactory creates the agent session for a new connection.
type SessionFactory func(connID string) *agent.Session

// Resetter restores the tool files to the blank template.
type Resetter interface {
	Reset(ctx context.Context) ([]string, error)
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Registry      *Registry
	Broadcaster   *Broadcaster
	Sessions      SessionFactory
	Resetter      Resetter
	Transcript    transcript.Logger
	AllowedOrigin string
	IsDev         bool
	HasAPIKey     bool
	QueueSize     int
	// ReadLimit caps one inbound frame. Chats carry base64 attachments, so
	// it must cover every attachment at its size limit.
	ReadLimit     int64
	Logger        *slog.Logger
}

// Handler serves the chat WebSocket endpoint.
type Handler struct {
	registry      *Registry
	broadcaster   *Broadcaster
	sessions      SessionFactory
	resetter      Resetter
	transcript    transcript.Logger
	allowedOrigin string
	isDev         bool
	hasAPIKey     bool
	queueSize     int
	readLimit     int64
	logger        *slog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		registry:      cfg.Registry,
		broadcaster:   cfg.Broadcaster,
		sessions:      cfg.Sessions,
		resetter:      cfg.Resetter,
		transcript:    cfg.Transcript,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		hasAPIKey:     cfg.HasAPIKey,
		queueSize:     cfg.QueueSize,
		readLimit:     cfg.ReadLimit,
		logger:        cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.readLimit <= 0 {
		h.readLimit = defaultReadLimit
	}
	if h.registry == nil {
		h.registry = NewRegistry(h.logger)
	}
	if h.broadcaster == nil {
		h.broadcaster = NewBroadcaster(h.registry, h.logger)
	}
	if h.transcript == nil {
		h.transcript = transcript.Nop{}
	}
	return h
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(h.readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(uuid.NewString(), ws, h.queueSize, h.logger)
	h.registry.Register(c)
	h.logger.Info("Client connected", "conn_id", c.ID(), "ip", r.RemoteAddr)

	var turns sync.WaitGroup
	defer func() {
		h.registry.Unregister(c)
		c.Close()
		if s := c.dropSession(); s != nil && s.Abort() {
			h.logger.Info("Aborted in-flight turn on disconnect", "conn_id", c.ID())
		}
		turns.Wait()
		h.logger.Info("Client disconnected", "conn_id", c.ID())
	}()

	c.Send(protocol.Connected{Message: "Connected to Chatooly agent", HasAPIKey: h.hasAPIKey})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "conn_id", c.ID())
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "conn_id", c.ID())
			}
			return
		}
		h.dispatch(ctx, c, data, &turns)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// dispatch handles one inbound frame. A panic is reported to the sender and
// the connection keeps running.
func (h *Handler) dispatch(ctx context.Context, c *Conn, data []byte, turns *sync.WaitGroup) {
	defer h.recoverTo(c)

	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		h.logger.Debug("Rejected inbound message", "conn_id", c.ID(), "error", err)
		c.Send(protocol.Error{Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.Chat:
		h.handleChat(ctx, c, m, turns)
	case protocol.Cancel:
		h.handleCancel(c)
	case protocol.Ping:
		c.Send(protocol.Pong{})
	case protocol.Reset:
		h.handleReset(ctx, c)
	}
}

func (h *Handler) recoverTo(c *Conn) {
	if r := recover(); r != nil {
		h.logger.Error("Panic while handling message", "conn_id", c.ID(), "panic", r, "stack", string(debug.Stack()))
		c.Send(protocol.Error{Message: fmt.Sprintf("Internal error: %v", r)})
	}
}

func (h *Handler) handleChat(ctx context.Context, c *Conn, m protocol.Chat, turns *sync.WaitGroup) {
	if !h.hasAPIKey {
		c.Send(protocol.Error{Message: MissingAPIKeyMessage})
		return
	}
	if strings.TrimSpace(m.Prompt) == "" && len(m.Attachments) == 0 {
		c.Send(protocol.Error{Message: "Message is empty"})
		return
	}
	if h.sessions == nil {
		c.Send(protocol.Error{Message: "Agent is not available"})
		return
	}

	sess := c.sessionOrCreate(h.sessions)
	turn, err := sess.Begin(m.Prompt, m.Attachments)
	if err != nil {
		// The running turn is left untouched.
		c.Send(protocol.Error{Message: err.Error()})
		return
	}

	h.logger.Info("Chat turn started", "conn_id", c.ID(), "prompt_len", len(m.Prompt), "attachments", len(m.Attachments))
	h.transcript.Log(transcript.Event{
		ConnID:     c.ID(),
		SessionID:  sess.ResumeToken(),
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: m.Prompt,
		Meta:       map[string]any{"attachments": len(m.Attachments)},
	})

	turns.Add(1)
	go func() {
		defer turns.Done()
		defer h.recoverTo(c)

		terminal := turn.Run(ctx, func(ev protocol.Outbound) {
			if a, ok := ev.(protocol.Assistant); ok {
				h.transcript.Log(transcript.Event{
					ConnID:     c.ID(),
					SessionID:  sess.ResumeToken(),
					Direction:  "outbound",
					EventType:  "chat_assistant_message",
					ContentRaw: a.Content,
				})
			}
			c.Send(ev)
		})

		h.transcript.Log(transcript.Event{
			ConnID:    c.ID(),
			SessionID: sess.ResumeToken(),
			Direction: "outbound",
			EventType: "chat_turn_finished",
			Meta:      map[string]any{"outcome": string(terminal.OutboundType())},
		})
	}()
}

func (h *Handler) handleCancel(c *Conn) {
	sess := c.currentSession()
	if sess == nil || !sess.Abort() {
		h.logger.Debug("Cancel with nothing in flight", "conn_id", c.ID())
		return
	}
	h.logger.Info("Chat turn cancelled by client", "conn_id", c.ID())
}

func (h *Handler) handleReset(ctx context.Context, c *Conn) {
	files, err := h.Reset(ctx)
	if err != nil {
		h.logger.Warn("Reset failed", "conn_id", c.ID(), "error", err)
		c.Send(protocol.Error{Message: protocol.ResetFailedPrefix + err.Error()})
		return
	}
	h.logger.Info("Tool files reset", "conn_id", c.ID(), "files", len(files))
}

// Reset restores the blank template and tells every connection.
func (h *Handler) Reset(ctx context.Context) ([]string, error) {
	if h.resetter == nil {
		return nil, ErrResetUnavailable
	}
	files, err := h.resetter.Reset(ctx)
	if err != nil {
		return nil, err
	}
	h.broadcaster.Broadcast(protocol.ResetComplete{Files: files})
	return files, nil
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int { return h.registry.Len() }
