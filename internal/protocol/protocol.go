// Package protocol defines the JSON messages exchanged over the duplex
// channel between browser surfaces and the gateway. Every frame is an object
// tagged by its "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chatooly/toolbuilder/internal/filechange"
)

// Type is the discriminator carried in every frame.
type Type string

// Inbound types.
const (
	TypeChat   Type = "chat"
	TypeCancel Type = "cancel"
	TypePing   Type = "ping"
	TypeReset  Type = "reset"
)

// Outbound types.
const (
	TypeConnected     Type = "connected"
	TypeThinking      Type = "thinking"
	TypeAssistant     Type = "assistant"
	TypeToolUse       Type = "tool_use"
	TypeResult        Type = "result"
	TypeSystem        Type = "system"
	TypeError         Type = "error"
	TypeFileChanged   Type = "file-changed"
	TypePong          Type = "pong"
	TypeCancelled     Type = "cancelled"
	TypeResetComplete Type = "reset-complete"
)

var (
	// ErrUnknownType is returned for a well-formed frame with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned for frames that are not JSON objects.
	ErrMalformed = errors.New("malformed message")
)

// Attachment is an inline image sent with a chat message.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Inbound is a client-to-server message.
type Inbound interface {
	InboundType() Type
}

// Chat starts a chat turn.
type Chat struct {
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Cancel aborts the in-flight turn.
type Cancel struct{}

// Ping is a heartbeat request.
type Ping struct{}

// Reset restores the tool files to the blank template.
type Reset struct{}

func (Chat) InboundType() Type   { return TypeChat }
func (Cancel) InboundType() Type { return TypeCancel }
func (Ping) InboundType() Type   { return TypePing }
func (Reset) InboundType() Type  { return TypeReset }

type inboundEnvelope struct {
	Type        Type         `json:"type"`
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments"`
	Images      []Attachment `json:"images"`
}

// UnknownTypeError carries the offending type name.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("Unknown message type: %s", e.Type)
}

func (e *UnknownTypeError) Unwrap() error { return ErrUnknownType }

// DecodeInbound parses one client frame. Attachments may arrive under either
// "attachments" or "images"; both lists are merged.
func DecodeInbound(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeChat:
		atts := append(env.Attachments, env.Images...)
		return Chat{Prompt: env.Prompt, Attachments: atts}, nil
	case TypeCancel:
		return Cancel{}, nil
	case TypePing:
		return Ping{}, nil
	case TypeReset:
		return Reset{}, nil
	}
	return nil, &UnknownTypeError{Type: string(env.Type)}
}

// EncodeInbound serializes a client frame.
func EncodeInbound(m Inbound) ([]byte, error) {
	switch v := m.(type) {
	case Chat:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Chat
		}{TypeChat, v})
	case Cancel, Ping, Reset:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{m.InboundType()})
	}
	return nil, fmt.Errorf("encode inbound %T: %w", m, ErrUnknownType)
}

// Outbound is a server-to-client message.
type Outbound interface {
	OutboundType() Type
}

// Connected is sent once after the handshake.
type Connected struct {
	Message   string `json:"message"`
	HasAPIKey bool   `json:"hasApiKey"`
}

// Thinking opens a chat turn.
type Thinking struct {
	Message string `json:"message"`
}

// Assistant carries the text of one assistant message.
type Assistant struct {
	Content string `json:"content"`
	UUID    string `json:"uuid,omitempty"`
}

// ToolUse announces one tool invocation by the agent.
type ToolUse struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Result is the successful or failed completion of a turn.
type Result struct {
	Subtype      string   `json:"subtype"`
	Result       string   `json:"result,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	NumTurns     int      `json:"num_turns"`
	IsError      bool     `json:"is_error,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Succeeded reports whether the runtime completed the turn successfully.
func (r Result) Succeeded() bool { return r.Subtype == "success" && !r.IsError }

// System surfaces runtime session metadata for new sessions.
type System struct {
	Subtype   string   `json:"subtype"`
	Tools     []string `json:"tools,omitempty"`
	Model     string   `json:"model,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Error is a user-visible failure.
type Error struct {
	Message string `json:"message"`
}

// FileChanged announces a debounced file change.
type FileChanged struct {
	File      string          `json:"file"`
	EventType filechange.Kind `json:"eventType"`
	Role      filechange.Role `json:"role,omitempty"`
}

// Change converts the message to a classified change, deriving the role when
// the sender omitted it.
func (f FileChanged) Change() filechange.Change {
	role := f.Role
	if role == "" {
		role = filechange.Classify(f.File)
	}
	return filechange.Change{File: f.File, Kind: f.EventType, Role: role}
}

// Pong answers a ping.
type Pong struct{}

// Cancelled terminates a turn that was aborted.
type Cancelled struct {
	Message string `json:"message"`
}

// ResetComplete reports the files restored from the template.
type ResetComplete struct {
	Files []string `json:"files,omitempty"`
}

func (Connected) OutboundType() Type     { return TypeConnected }
func (Thinking) OutboundType() Type      { return TypeThinking }
func (Assistant) OutboundType() Type     { return TypeAssistant }
func (ToolUse) OutboundType() Type       { return TypeToolUse }
func (Result) OutboundType() Type        { return TypeResult }
func (System) OutboundType() Type        { return TypeSystem }
func (Error) OutboundType() Type         { return TypeError }
func (FileChanged) OutboundType() Type   { return TypeFileChanged }
func (Pong) OutboundType() Type          { return TypePong }
func (Cancelled) OutboundType() Type     { return TypeCancelled }
func (ResetComplete) OutboundType() Type { return TypeResetComplete }

// Error messages that arrive while a turn may still be running.
const (
	TurnInFlightMessage = "a request is already in progress, wait for it to finish or cancel it"
	ResetFailedPrefix   = "Reset failed: "
)

// IsTerminal reports whether m ends a chat turn. A rejected duplicate chat
// and a failed reset are errors that leave the running turn alone.
func IsTerminal(m Outbound) bool {
	switch m := m.(type) {
	case Result, Cancelled:
		return true
	case Error:
		return m.Message != TurnInFlightMessage && !strings.HasPrefix(m.Message, ResetFailedPrefix)
	}
	return false
}

// Encode serializes an outbound message with its type tag.
func Encode(m Outbound) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.OutboundType(), err)
	}
	tag, err := json.Marshal(m.OutboundType())
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return []byte(`{"type":` + string(tag) + `}`), nil
	}
	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// DecodeOutbound parses one server frame.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var m Outbound
	switch head.Type {
	case TypeConnected:
		m = &Connected{}
	case TypeThinking:
		m = &Thinking{}
	case TypeAssistant:
		m = &Assistant{}
	case TypeToolUse:
		m = &ToolUse{}
	case TypeResult:
		m = &Result{}
	case TypeSystem:
		m = &System{}
	case TypeError:
		m = &Error{}
	case TypeFileChanged:
		m = &FileChanged{}
	case TypePong:
		return Pong{}, nil
	case TypeCancelled:
		m = &Cancelled{}
	case TypeResetComplete:
		m = &ResetComplete{}
	default:
		return nil, &UnknownTypeError{Type: string(head.Type)}
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return deref(m), nil
}

func deref(m Outbound) Outbound {
	switch v := m.(type) {
	case *Connected:
		return *v
	case *Thinking:
		return *v
	case *Assistant:
		return *v
	case *ToolUse:
		return *v
	case *Result:
		return *v
	case *System:
		return *v
	case *Error:
		return *v
	case *FileChanged:
		return *v
	case *Cancelled:
		return *v
	case *ResetComplete:
		return *v
	}
	return m
}
