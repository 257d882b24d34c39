// Package ipc pairs the persistent shell surface with the sandboxed tool
// surface over a named message bus, so the tool can be refreshed without
// losing chat state held by the shell.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatooly/toolbuilder/internal/filechange"
)

// ChannelName is the bus both surfaces join.
const ChannelName = "chatooly-ipc"

// Type tags a bus message.
type Type string

const (
	TypeToolReady   Type = "tool-ready"
	TypeFileChanged Type = "file-changed"
	TypeRefreshTool Type = "refresh-tool"
	TypeToolError   Type = "tool-error"
)

// ErrUnknownType is returned by Decode for an unrecognised tag.
var ErrUnknownType = errors.New("unknown ipc message type")

// ErrorData is the payload of a tool-error message.
type ErrorData struct {
	Message string `json:"message"`
}

// Message is one bus message. Only the fields of its type are set.
type Message struct {
	Type      Type            `json:"type"`
	File      string          `json:"file,omitempty"`
	EventType filechange.Kind `json:"eventType,omitempty"`
	Data      *ErrorData      `json:"data,omitempty"`
}

// ToolReady announces that the tool surface finished initialising.
func ToolReady() Message { return Message{Type: TypeToolReady} }

// FileChanged forwards a watcher event to the tool surface.
func FileChanged(file string, kind filechange.Kind) Message {
	return Message{Type: TypeFileChanged, File: file, EventType: kind}
}

// RefreshTool asks the tool surface to reload itself.
func RefreshTool() Message { return Message{Type: TypeRefreshTool} }

// ToolError reports a tool surface failure to the shell.
func ToolError(msg string) Message {
	return Message{Type: TypeToolError, Data: &ErrorData{Message: msg}}
}

// ErrorMessage returns the tool-error text, or "" for other types.
func (m Message) ErrorMessage() string {
	if m.Data == nil {
		return ""
	}
	return m.Data.Message
}

// Encode serialises m.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a bus message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode ipc message: %w", err)
	}
	switch m.Type {
	case TypeToolReady, TypeFileChanged, TypeRefreshTool, TypeToolError:
		return m, nil
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}
