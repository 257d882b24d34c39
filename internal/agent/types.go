// Package agent runs resumable conversations with the external agent runtime
// that edits the tool's files.
package agent

import (
	"encoding/json"
	"strings"
)

// Options are the per-session runtime settings.
type Options struct {
	Model          string
	MaxTurns       int
	PermissionMode string
	AllowedTools   []string
	SystemPrompt   string
	WorkDir        string
}

// Query is one call into the runtime.
type Query struct {
	Prompt  string
	Resume  string
	Options Options
}

// Stream message types emitted by the runtime.
const (
	MessageSystem    = "system"
	MessageAssistant = "assistant"
	MessageUser      = "user"
	MessageResult    = "result"
)

// StreamMessage is one line of the runtime's stream-json output.
type StreamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UUID      string `json:"uuid,omitempty"`

	// system:init
	Tools []string `json:"tools,omitempty"`
	Model string   `json:"model,omitempty"`

	// assistant / user
	Message *MessageBody `json:"message,omitempty"`

	// result
	Result       string   `json:"result,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// MessageBody holds the content blocks of an assistant or user message.
type MessageBody struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a text or tool_use block.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Text joins the text blocks with newlines.
func (m *MessageBody) Text() string {
	if m == nil {
		return ""
	}
	var parts []string
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks in order.
func (m *MessageBody) ToolUses() []ContentBlock {
	if m == nil {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}
