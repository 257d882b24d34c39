// Package client keeps a browser-side channel to the gateway alive: it
// reconnects with linear backoff, sends heartbeats and tracks whether a chat
// turn is in flight.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusThinking     Status = "thinking"
	StatusDisconnected Status = "disconnected"
)

var (
	// ErrNotConnected is returned when no channel is open.
	ErrNotConnected = errors.New("not connected to server")
	// ErrTurnInFlight is returned by Chat while a previous chat is unanswered.
	ErrTurnInFlight = errors.New("a request is already in progress")
)

const writeTimeout = 10 * time.Second

// Observer receives client events. Calls are never made with the client's
// lock held.
type Observer interface {
	StatusChanged(Status)
	Message(protocol.Outbound)
	// GaveUp is reported once when reconnect attempts are exhausted.
	GaveUp()
}

// Config controls a Client.
type Config struct {
	URL               string
	BaseDelay         time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	Dialer            Dialer
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Client is a reconnecting chat channel.
type Client struct {
	url         string
	baseDelay   time.Duration
	maxAttempts int
	heartbeat   time.Duration
	dialer      Dialer
	clock       clock.Clock
	logger      *slog.Logger
	obs         Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ch       Channel
	status   Status
	attempts int
	inFlight bool
	gaveUp   bool
	closed   bool
	retry    clock.Timer
	beat     clock.Timer
}

// New creates a client. Nothing is dialed until Connect.
func New(cfg Config, obs Observer) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 3 * time.Second
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         cfg.URL,
		baseDelay:   cfg.BaseDelay,
		maxAttempts: cfg.MaxAttempts,
		heartbeat:   cfg.HeartbeatInterval,
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		obs:         obs,
		ctx:         ctx,
		cancel:      cancel,
		status:      StatusDisconnected,
	}
}

// Connect dials the server and starts the heartbeat. A failed dial is not
// returned: it enters the reconnect schedule like any other close. Calling
// Connect after GaveUp starts a fresh schedule.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.ch != nil {
		c.mu.Unlock()
		return
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.attempts = 0
	c.gaveUp = false
	if c.beat == nil {
		c.beat = c.clock.AfterFunc(c.heartbeat, c.tick)
	}
	c.mu.Unlock()

	c.dial()
}

// Close stops reconnecting and closes the channel.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ch := c.ch
	c.ch = nil
	c.inFlight = false
	for _, t := range []clock.Timer{c.retry, c.beat} {
		if t != nil {
			t.Stop()
		}
	}
	c.mu.Unlock()

	c.cancel()
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Debug("Failed to close channel", "error", err)
		}
	}
	c.setStatus(StatusDisconnected)
}

// Status returns the current status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// InFlight reports whether a chat is awaiting its terminal event.
func (c *Client) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Attempts returns the number of reconnects scheduled since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Chat sends a prompt.
func (c *Client) Chat(prompt string, atts []protocol.Attachment) error {
	c.mu.Lock()
	ch := c.ch
	if ch == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	if err := c.write(ch, protocol.Chat{Prompt: prompt, Attachments: atts}); err != nil {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

// Cancel asks the server to abort the in-flight turn.
func (c *Client) Cancel() error {
	return c.sendControl(protocol.Cancel{})
}

// Reset asks the server to restore the blank tool template.
func (c *Client) Reset() error {
	return c.sendControl(protocol.Reset{})
}

func (c *Client) sendControl(m protocol.Inbound) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := c.write(ch, m); err != nil {
		return fmt.Errorf("send %s: %w", m.InboundType(), err)
	}
	return nil
}

func (c *Client) write(ch Channel, m protocol.Inbound) error {
	data, err := protocol.EncodeInbound(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return ch.Write(ctx, data)
}

func (c *Client) dial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()
	c.setStatus(StatusConnecting)

	ch, err := c.dialer.Dial(c.ctx, c.url)
	if err != nil {
		c.logger.Warn("Failed to connect", "url", c.url, "error", err)
		c.lost(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.ch = ch
	c.attempts = 0
	c.gaveUp = false
	c.mu.Unlock()

	c.logger.Info("Connected", "url", c.url)
	c.setStatus(StatusConnected)
	go c.readLoop(ch)
}

// lost handles a closed channel or failed dial. ch is nil for a failed dial.
func (c *Client) lost(ch Channel) {
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	c.ch = nil
	c.inFlight = false
	if c.closed {
		c.mu.Unlock()
		return
	}

	giveUp := false
	if c.attempts < c.maxAttempts {
		c.attempts++
		delay := c.baseDelay * time.Duration(c.attempts)
		c.retry = c.clock.AfterFunc(delay, c.dial)
		c.logger.Info("Reconnect scheduled", "attempt", c.attempts, "delay", delay)
	} else if !c.gaveUp {
		c.gaveUp = true
		giveUp = true
	}
	c.mu.Unlock()

	c.setStatus(StatusDisconnected)
	if giveUp {
		c.logger.Warn("Reconnect attempts exhausted", "attempts", c.maxAttempts)
		c.obs.GaveUp()
	}
}

func (c *Client) readLoop(ch Channel) {
	for {
		data, err := ch.Read(c.ctx)
		if err != nil {
			c.logger.Debug("Channel closed", "error", err)
			c.lost(ch)
			return
		}
		m, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		c.observe(m)
	}
}

func (c *Client) observe(m protocol.Outbound) {
	switch {
	case m.OutboundType() == protocol.TypeThinking:
		c.setStatus(StatusThinking)
	case protocol.IsTerminal(m):
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.setStatus(StatusConnected)
	}
	c.obs.Message(m)
}

func (c *Client) tick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ch := c.ch
	c.beat = c.clock.AfterFunc(c.heartbeat, c.tick)
	c.mu.Unlock()

	if ch == nil {
		return
	}
	if err := c.write(ch, protocol.Ping{}); err != nil {
		c.logger.Debug("Heartbeat failed", "error", err)
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.obs.StatusChanged(s)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status)      {}
func (nopObserver) Message(protocol.Outbound) {}
func (nopObserver) GaveUp()                   {}
