package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatooly/toolbuilder/internal/agent"
	"github.com/chatooly/toolbuilder/internal/protocol"
	"github.com/coder/websocket"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 10 * time.Second
)

// frameWriter is the part of *websocket.Conn the send pump needs.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Conn is one browser connection. Outbound frames go through a buffered
// queue drained by a single writer goroutine, so frames reach the socket in
// the order they were queued.
type Conn struct {
	id     string
	ws     frameWriter
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	session *agent.Session
}

func newConn(id string, ws frameWriter, queueSize int, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c := &Conn{
		id:     id,
		ws:     ws,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
	c.wg.Add(1)
	go c.pump()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Done is closed when the connection stops accepting frames.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues m, blocking while the queue is full. It returns false once the
// connection is closed.
func (c *Conn) Send(m protocol.Outbound) bool {
	data, err := protocol.Encode(m)
	if err != nil {
		c.logger.Error("Failed to encode outbound message", "type", string(m.OutboundType()), "error", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	case <-c.done:
		return false
	}
}

// TrySend queues a pre-encoded frame without blocking. A closed connection or
// a full queue drops the frame.
func (c *Conn) TrySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		c.logger.Warn("Send queue full, dropping frame", "queue_len", len(c.queue))
		return false
	}
}

func (c *Conn) pump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket write failed", "error", err)
				c.once.Do(func() { close(c.done) })
				return
			}
		}
	}
}

// Close stops the send pump. Queued frames are discarded.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Conn) sessionOrCreate(create SessionFactory) *agent.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = create(c.id)
	}
	return c.session
}

func (c *Conn) currentSession() *agent.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) dropSession() *agent.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	c.session = nil
	return s
}
