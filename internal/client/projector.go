package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatooly/toolbuilder/internal/protocol"
)

// EntryKind classifies a transcript entry.
type EntryKind string

const (
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
	EntryToolUse   EntryKind = "tool-use"
	EntrySystem    EntryKind = "system"
	EntryError     EntryKind = "error"
)

// User-visible notices.
const (
	ExhaustedMessage = "Could not connect to server. Please ensure the server is running"
	NoAPIKeyMessage  = "API key not configured. Add ANTHROPIC_API_KEY to the server's .env file and restart."
	ResetMessage     = "Tool reset to the blank template"
)

// Entry is one rendered line of the chat transcript.
type Entry struct {
	Kind EntryKind
	Text string
}

// View is the surface a Projector renders into.
type View interface {
	SetStatus(Status)
	Append(Entry)
}

// Projector renders client events into a View. It implements Observer.
type Projector struct {
	view         View
	onFileChange func(protocol.FileChanged)
}

var _ Observer = (*Projector)(nil)

// NewProjector creates a projector rendering into view.
func NewProjector(view View) *Projector {
	return &Projector{view: view}
}

// OnFileChange sets the handler that receives file-changed events.
func (p *Projector) OnFileChange(fn func(protocol.FileChanged)) {
	p.onFileChange = fn
}

// UserPrompt echoes a prompt the user sent.
func (p *Projector) UserPrompt(text string) {
	p.view.Append(Entry{Kind: EntryUser, Text: text})
}

// StatusChanged implements Observer.
func (p *Projector) StatusChanged(s Status) {
	p.view.SetStatus(s)
}

// GaveUp implements Observer.
func (p *Projector) GaveUp() {
	p.view.Append(Entry{Kind: EntryError, Text: ExhaustedMessage})
}

// Message implements Observer.
func (p *Projector) Message(m protocol.Outbound) {
	switch m := m.(type) {
	case protocol.Connected:
		if !m.HasAPIKey {
			p.view.Append(Entry{Kind: EntrySystem, Text: NoAPIKeyMessage})
		}
	case protocol.Assistant:
		if m.Content != "" {
			p.view.Append(Entry{Kind: EntryAssistant, Text: m.Content})
		}
	case protocol.ToolUse:
		p.view.Append(Entry{Kind: EntryToolUse, Text: toolNotice(m)})
	case protocol.System:
		if m.Model != "" {
			p.view.Append(Entry{Kind: EntrySystem, Text: "Session started with " + m.Model})
		}
	case protocol.Result:
		p.view.Append(resultEntry(m))
	case protocol.Cancelled:
		p.view.Append(Entry{Kind: EntrySystem, Text: m.Message})
	case protocol.Error:
		p.view.Append(Entry{Kind: EntryError, Text: m.Message})
	case protocol.ResetComplete:
		p.view.Append(Entry{Kind: EntrySystem, Text: ResetMessage})
	case protocol.FileChanged:
		if p.onFileChange != nil {
			p.onFileChange(m)
		}
	}
}

// toolNotice names the tool and its most telling argument.
func toolNotice(m protocol.ToolUse) string {
	var input struct {
		FilePath string `json:"file_path"`
		Pattern  string `json:"pattern"`
		Command  string `json:"command"`
	}
	if len(m.Input) > 0 {
		_ = json.Unmarshal(m.Input, &input)
	}
	for _, arg := range []string{input.FilePath, input.Pattern, input.Command} {
		if arg != "" {
			return fmt.Sprintf("Using %s: %s", m.Tool, arg)
		}
	}
	return "Using " + m.Tool
}

func resultEntry(r protocol.Result) Entry {
	if r.Succeeded() {
		text := "Done"
		if r.DurationMs > 0 {
			text = fmt.Sprintf("Done in %.1fs", float64(r.DurationMs)/1000)
		}
		return Entry{Kind: EntrySystem, Text: text}
	}
	text := "Request failed"
	if r.Subtype != "" {
		text += " (" + r.Subtype + ")"
	}
	if len(r.Errors) > 0 {
		text += ": " + strings.Join(r.Errors, "; ")
	}
	return Entry{Kind: EntryError, Text: text}
}
