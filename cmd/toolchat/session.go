package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chatooly/toolbuilder/internal/client"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

// session renders the chat and exposes connection and turn milestones as
// channels.
type session struct {
	*client.Projector

	connected chan struct{}
	finished  chan protocol.Outbound
	gaveUp    chan struct{}
	once      sync.Once
}

func newSession(view client.View) *session {
	return &session{
		Projector: client.NewProjector(view),
		connected: make(chan struct{}, 1),
		finished:  make(chan protocol.Outbound, 1),
		gaveUp:    make(chan struct{}),
	}
}

func (s *session) StatusChanged(st client.Status) {
	s.Projector.StatusChanged(st)
	if st == client.StatusConnected {
		select {
		case s.connected <- struct{}{}:
		default:
		}
	}
}

func (s *session) Message(m protocol.Outbound) {
	s.Projector.Message(m)
	if protocol.IsTerminal(m) {
		select {
		case s.finished <- m:
		default:
		}
	}
}

func (s *session) GaveUp() {
	s.Projector.GaveUp()
	s.once.Do(func() { close(s.gaveUp) })
}

func (s *session) waitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.gaveUp:
		return errors.New(client.ExhaustedMessage)
	case <-ctx.Done():
		return ctx.Err()
	}
}

var entryPrefix = map[client.EntryKind]string{
	client.EntryUser:      "you> ",
	client.EntryAssistant: "agent> ",
	client.EntryToolUse:   "  ~ ",
	client.EntrySystem:    "  * ",
	client.EntryError:     "  ! ",
}

// terminalView prints entries as prefixed lines. Status changes other than
// thinking are shown so reconnects are visible.
type terminalView struct {
	mu sync.Mutex
	w  io.Writer
}

func newTerminalView(w io.Writer) *terminalView {
	return &terminalView{w: w}
}

func (v *terminalView) SetStatus(s client.Status) {
	if s == client.StatusThinking {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "[%s]\n", s)
}

func (v *terminalView) Append(e client.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix := entryPrefix[e.Kind]
	for _, line := range strings.Split(strings.TrimRight(e.Text, "\n"), "\n") {
		fmt.Fprintln(v.w, prefix+line)
	}
}

// loadAttachments reads image files into base64 attachments.
func loadAttachments(paths []string) ([]protocol.Attachment, error) {
	atts := make([]protocol.Attachment, 0, len(paths))
	for _, p := range paths {
		mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("attach %s: not an image", p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", p, err)
		}
		atts = append(atts, protocol.Attachment{
			Type:      "image",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		})
	}
	return atts, nil
}
