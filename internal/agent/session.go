package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chatooly/toolbuilder/internal/protocol"
)

// ErrTurnInFlight is returned by Begin while another turn is running.
var ErrTurnInFlight = errors.New(protocol.TurnInFlightMessage)

// User-visible lifecycle messages.
const (
	ThinkingMessage  = "Agent is processing..."
	CancelledMessage = "Agent session was cancelled"
)

// Session is one resumable conversation with the runtime. It is owned by a
// single connection and runs at most one turn at a time.
type Session struct {
	id      string
	runtime Runtime
	opts    Options
	stager  *Stager
	logger  *slog.Logger

	mu     sync.Mutex
	resume string
	active *Turn
}

// NewSession creates a session with no resumption token.
func NewSession(id string, rt Runtime, opts Options, stager *Stager, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if stager == nil {
		stager = NewStager(filepath.Join(os.TempDir(), "chatooly-attachments"), 0, 0, logger)
	}
	return &Session{
		id:      id,
		runtime: rt,
		opts:    opts,
		stager:  stager,
		logger:  logger.With("conn_id", id),
	}
}

// ID returns the owning connection's id.
func (s *Session) ID() string { return s.id }

// ResumeToken returns the runtime session id, empty until the first init.
func (s *Session) ResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

// InFlight reports whether a turn is running.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Begin reserves the session's turn slot.
func (s *Session) Begin(prompt string, atts []protocol.Attachment) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrTurnInFlight
	}
	t := &Turn{session: s, prompt: prompt, attachments: atts}
	s.active = t
	return t, nil
}

// Abort cancels the in-flight turn. It returns false when there is no turn or
// the turn's terminal event was already decided.
func (s *Session) Abort() bool {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	if t == nil {
		return false
	}
	return t.abort()
}

func (s *Session) release(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == t {
		s.active = nil
	}
}

func (s *Session) capture(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume == "" {
		s.resume = token
		s.logger.Info("Agent session started", "session_id", token)
	}
}

// Turn is one prompt and its streamed response. Its terminal event is decided
// exactly once: an abort that lands before the decision turns it into
// cancelled, an abort after it is a no-op.
type Turn struct {
	session     *Session
	prompt      string
	attachments []protocol.Attachment

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool
	decided bool
}

func (t *Turn) abort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decided {
		return false
	}
	t.aborted = true
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

func (t *Turn) bind(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
	return !t.aborted
}

func (t *Turn) wasAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

func (t *Turn) decide() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decided = true
	return t.aborted
}

// Run executes the turn, calling emit for every event in order: thinking,
// then assistant and tool_use events, then exactly one of result, error or
// cancelled. Staged attachments are removed before the terminal event is
// emitted. Run returns the terminal event.
func (t *Turn) Run(ctx context.Context, emit func(protocol.Outbound)) protocol.Outbound {
	s := t.session
	defer s.release(t)
	emit(protocol.Thinking{Message: ThinkingMessage})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var terminal protocol.Outbound
	if t.bind(cancel) {
		terminal = t.execute(ctx, emit)
	}

	switch {
	case t.decide():
		terminal = protocol.Cancelled{Message: CancelledMessage}
	case terminal == nil && ctx.Err() != nil:
		terminal = protocol.Cancelled{Message: CancelledMessage}
	case terminal == nil:
		terminal = agentError(ErrNoResult)
	}

	s.release(t)
	s.logger.Info("Chat turn finished", "outcome", string(terminal.OutboundType()))
	emit(terminal)
	return terminal
}

func (t *Turn) execute(ctx context.Context, emit func(protocol.Outbound)) protocol.Outbound {
	s := t.session
	resume := s.ResumeToken()

	paths := s.stager.Stage(t.attachments)
	defer s.stager.Cleanup(paths)

	q := Query{
		Prompt:  PromptWithAttachments(t.prompt, paths),
		Resume:  resume,
		Options: s.opts,
	}

	live := func(m protocol.Outbound) {
		if !t.wasAborted() {
			emit(m)
		}
	}

	var terminal protocol.Outbound
	for msg, err := range s.runtime.Run(ctx, q) {
		if err != nil {
			if terminal == nil && ctx.Err() == nil {
				s.logger.Warn("Agent runtime failed", "error", err)
				terminal = agentError(err)
			}
			break
		}
		if terminal != nil || msg == nil {
			continue
		}
		terminal = s.translate(msg, resume == "", live)
	}
	return terminal
}

// translate maps one runtime message to outbound events and returns the
// terminal candidate, if the message is one.
func (s *Session) translate(msg *StreamMessage, fresh bool, emit func(protocol.Outbound)) protocol.Outbound {
	switch msg.Type {
	case MessageSystem:
		if msg.Subtype != "init" {
			return nil
		}
		s.capture(msg.SessionID)
		if fresh {
			emit(protocol.System{
				Subtype:   msg.Subtype,
				Tools:     msg.Tools,
				Model:     msg.Model,
				SessionID: msg.SessionID,
			})
		}
	case MessageAssistant:
		if text := msg.Message.Text(); text != "" {
			emit(protocol.Assistant{Content: text, UUID: msg.UUID})
		}
		for _, tu := range msg.Message.ToolUses() {
			emit(protocol.ToolUse{Tool: tu.Name, Input: tu.Input})
		}
	case MessageResult:
		s.capture(msg.SessionID)
		return protocol.Result{
			Subtype:      msg.Subtype,
			Result:       msg.Result,
			DurationMs:   msg.DurationMs,
			TotalCostUSD: msg.TotalCostUSD,
			NumTurns:     msg.NumTurns,
			IsError:      msg.IsError,
			Errors:       msg.Errors,
		}
	}
	return nil
}

func agentError(err error) protocol.Error {
	return protocol.Error{Message: fmt.Sprintf("Agent error: %v", err)}
}
