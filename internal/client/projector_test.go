package client

import (
	"encoding/json"
	"testing"

	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

type fakeView struct {
	status  Status
	entries []Entry
}

func (v *fakeView) SetStatus(s Status) { v.status = s }
func (v *fakeView) Append(e Entry)     { v.entries = append(v.entries, e) }

func TestProjector_Message(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.Outbound
		want []Entry
	}{
		{"missing api key", protocol.Connected{HasAPIKey: false}, []Entry{{EntrySystem, NoAPIKeyMessage}}},
		{"api key present", protocol.Connected{HasAPIKey: true}, nil},
		{"thinking is status only", protocol.Thinking{Message: "Agent is processing..."}, nil},
		{"assistant", protocol.Assistant{Content: "Here is your tool"}, []Entry{{EntryAssistant, "Here is your tool"}}},
		{"tool use with file", protocol.ToolUse{Tool: "Write", Input: json.RawMessage(`{"file_path":"js/main.js"}`)}, []Entry{{EntryToolUse, "Using Write: js/main.js"}}},
		{"tool use bare", protocol.ToolUse{Tool: "Glob"}, []Entry{{EntryToolUse, "Using Glob"}}},
		{"success", protocol.Result{Subtype: "success", DurationMs: 2500}, []Entry{{EntrySystem, "Done in 2.5s"}}},
		{"failure", protocol.Result{Subtype: "error_max_turns", IsError: true, Errors: []string{"too many turns"}}, []Entry{{EntryError, "Request failed (error_max_turns): too many turns"}}},
		{"cancelled is not an error", protocol.Cancelled{Message: "Agent session was cancelled"}, []Entry{{EntrySystem, "Agent session was cancelled"}}},
		{"agent error", protocol.Error{Message: "Agent error: boom"}, []Entry{{EntryError, "Agent error: boom"}}},
		{"reset", protocol.ResetComplete{Files: []string{"index.html"}}, []Entry{{EntrySystem, ResetMessage}}},
		{"pong", protocol.Pong{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeView{}
			NewProjector(v).Message(tt.msg)
			if len(v.entries) != len(tt.want) {
				t.Fatalf("entries = %+v, want %+v", v.entries, tt.want)
			}
			for i := range tt.want {
				if v.entries[i] != tt.want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, v.entries[i], tt.want[i])
				}
			}
		})
	}
}

func TestProjector_FileChangeAndStatus(t *testing.T) {
	v := &fakeView{}
	p := NewProjector(v)

	var got []string
	p.OnFileChange(func(fc protocol.FileChanged) { got = append(got, fc.File) })
	p.Message(protocol.FileChanged{File: "css/styles.css", EventType: filechange.Changed})
	if len(got) != 1 || got[0] != "css/styles.css" || len(v.entries) != 0 {
		t.Errorf("file change handling: got %v, entries %v", got, v.entries)
	}

	p.StatusChanged(StatusThinking)
	if v.status != StatusThinking {
		t.Errorf("status = %s", v.status)
	}

	p.UserPrompt("draw circles")
	p.GaveUp()
	if v.entries[0] != (Entry{EntryUser, "draw circles"}) || v.entries[1] != (Entry{EntryError, ExhaustedMessage}) {
		t.Errorf("entries = %+v", v.entries)
	}
}
