// Package transcript writes chat prompts and turn outcomes as NDJSON, one
// file per connection.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one logged conversation entry.
type Event struct {
	Timestamp  string         `json:"ts"`
	ConnID     string         `json:"conn_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Nop discards everything.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events asynchronously. A full queue drops events.
type FileLogger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// New returns a FileLogger, or Nop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an event without blocking.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Conversation log queue full, dropping event", "conn_id", ev.ConnID, "event_type", ev.EventType)
	}
}

func (l *FileLogger) run() {
	defer l.wg.Done()
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("Failed to write conversation log", "conn_id", ev.ConnID, "error", err)
		}
	}
}

func (l *FileLogger) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, safeName(ev.ConnID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close flushes queued events and stops the writer.
func (l *FileLogger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		l.wg.Wait()
	})
	return nil
}

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", ""))
}

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafePattern.ReplaceAllString(s, "_")
}
