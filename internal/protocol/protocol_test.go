package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/chatooly/toolbuilder/internal/filechange"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Inbound
	}{
		{"cancel", `{"type":"cancel"}`, Cancel{}},
		{"ping", `{"type":"ping"}`, Ping{}},
		{"reset", `{"type":"reset"}`, Reset{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeInbound_ChatMergesImages(t *testing.T) {
	raw := `{"type":"chat","prompt":"make it blue",
		"attachments":[{"type":"base64","media_type":"image/png","data":"AA=="}],
		"images":[{"type":"base64","media_type":"image/jpeg","data":"AQ=="}]}`
	got, err := DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	chat, ok := got.(Chat)
	if !ok {
		t.Fatalf("got %T, want Chat", got)
	}
	if chat.Prompt != "make it blue" {
		t.Errorf("prompt = %q", chat.Prompt)
	}
	if len(chat.Attachments) != 2 || chat.Attachments[1].MediaType != "image/jpeg" {
		t.Errorf("attachments = %+v", chat.Attachments)
	}
}

func TestDecodeInbound_Errors(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"shutdown"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
	if err.Error() != "Unknown message type: shutdown" {
		t.Errorf("message = %q", err.Error())
	}

	_, err = DecodeInbound([]byte(`not json`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestEncode_TagsType(t *testing.T) {
	data, err := Encode(FileChanged{File: "js/main.js", EventType: filechange.Changed, Role: filechange.MainScript})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "file-changed" || got["file"] != "js/main.js" || got["eventType"] != "changed" || got["role"] != "main-script" {
		t.Errorf("encoded = %s", data)
	}

	data, err = Encode(Pong{})
	if err != nil {
		t.Fatalf("Encode pong: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("pong = %s", data)
	}
}

func TestDecodeOutbound_RoundTripsThroughClient(t *testing.T) {
	msgs := []Outbound{
		Connected{Message: "hi", HasAPIKey: true},
		Thinking{Message: "Agent is processing..."},
		Assistant{Content: "done", UUID: "u1"},
		ToolUse{Tool: "Edit", Input: json.RawMessage(`{"file_path":"js/main.js"}`)},
		Result{Subtype: "success", Result: "ok", DurationMs: 12, NumTurns: 2},
		Cancelled{Message: "Agent session was cancelled"},
		ResetComplete{Files: []string{"index.html"}},
		Pong{},
	}
	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T): %v", m, err)
		}
		got, err := DecodeOutbound(data)
		if err != nil {
			t.Fatalf("DecodeOutbound(%s): %v", data, err)
		}
		if got.OutboundType() != m.OutboundType() {
			t.Errorf("type = %s, want %s", got.OutboundType(), m.OutboundType())
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Result{}) || !IsTerminal(Error{}) || !IsTerminal(Cancelled{}) {
		t.Error("result, error and cancelled are terminal")
	}
	if IsTerminal(Assistant{}) || IsTerminal(Thinking{}) || IsTerminal(FileChanged{}) {
		t.Error("non-terminal message reported terminal")
	}
	if IsTerminal(Error{Message: TurnInFlightMessage}) {
		t.Error("duplicate chat rejection must not end the running turn")
	}
	if IsTerminal(Error{Message: ResetFailedPrefix + "permission denied"}) {
		t.Error("reset failure must not end the running turn")
	}
	if !IsTerminal(Error{Message: "Agent error: exit status 1"}) {
		t.Error("agent error should end the turn")
	}
}

func TestFileChanged_ChangeDerivesRole(t *testing.T) {
	c := FileChanged{File: "css/styles.css", EventType: filechange.Changed}.Change()
	if c.Role != filechange.Style {
		t.Errorf("role = %q, want style", c.Role)
	}
}
