package ipc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatooly/toolbuilder/internal/client"
	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/hotreload"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

func TestCodec(t *testing.T) {
	data, err := Encode(ToolError("Failed to reload script: js/main.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"tool-error","data":{"message":"Failed to reload script: js/main.js"}}` {
		t.Errorf("encoded = %s", data)
	}

	m, err := Decode([]byte(`{"type":"file-changed","file":"js/main.js","eventType":"changed"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.File != "js/main.js" || m.EventType != filechange.Changed {
		t.Errorf("decoded = %+v", m)
	}

	if _, err := Decode([]byte(`{"type":"launch-missiles"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type err = %v", err)
	}
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Error("expected malformed error")
	}
}

type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *inbox) add(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) types() []Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Type, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestHub_NoSelfDelivery(t *testing.T) {
	hub := NewHub()
	a, b, other := hub.Open(ChannelName), hub.Open(ChannelName), hub.Open("elsewhere")
	var inA, inB, inOther inbox
	a.Subscribe(inA.add)
	unsubB := b.Subscribe(inB.add)
	other.Subscribe(inOther.add)

	if err := a.Post(ToolReady()); err != nil {
		t.Fatal(err)
	}
	if len(inA.types()) != 0 || len(inB.types()) != 1 || len(inOther.types()) != 0 {
		t.Fatalf("a=%v b=%v other=%v", inA.types(), inB.types(), inOther.types())
	}

	unsubB()
	_ = a.Post(RefreshTool())
	if len(inB.types()) != 1 {
		t.Error("unsubscribed handler still receives")
	}

	_ = b.Close()
	if err := b.Post(ToolReady()); !errors.Is(err, ErrClosed) {
		t.Errorf("post on closed bus = %v", err)
	}
	// Nobody listening is fine: delivery is at most once.
	if err := a.Post(ToolReady()); err != nil {
		t.Errorf("post with no peers = %v", err)
	}
}

type fakeView struct {
	mu      sync.Mutex
	status  client.Status
	entries []client.Entry
}

func (v *fakeView) SetStatus(s client.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = s
}

func (v *fakeView) Append(e client.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, e)
}

type fakeFrame struct {
	reloads int
	busy    []bool
}

func (f *fakeFrame) Reload()        { f.reloads++ }
func (f *fakeFrame) SetBusy(b bool) { f.busy = append(f.busy, b) }

type shellFixture struct {
	shell *Shell
	frame *fakeFrame
	view  *fakeView
	clk   *clock.Fake
	tool  *inbox
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	hub := NewHub()
	toolBus := hub.Open(ChannelName)
	f := &shellFixture{
		frame: &fakeFrame{},
		view:  &fakeView{},
		clk:   clock.NewFake(time.Unix(0, 0)),
		tool:  &inbox{},
	}
	toolBus.Subscribe(f.tool.add)
	f.shell = NewShell(ShellConfig{
		Bus:   hub.Open(ChannelName),
		Frame: f.frame,
		View:  f.view,
		Clock: f.clk,
	})
	t.Cleanup(f.shell.Close)
	return f
}

func fileChanged(file string) protocol.FileChanged {
	return protocol.FileChanged{File: file, EventType: filechange.Changed}
}

func TestShell_RefreshesAfterMarkupTurn(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Message(protocol.Thinking{})
	f.shell.Message(protocol.ToolUse{Tool: "Write"})
	f.shell.Message(fileChanged("index.html"))
	f.shell.Message(fileChanged("js/main.js"))
	f.shell.Message(fileChanged("index.html"))

	if got := f.tool.types(); len(got) != 3 || got[0] != TypeFileChanged {
		t.Fatalf("forwarded = %v", got)
	}
	if f.frame.reloads != 0 {
		t.Fatal("refreshed before the turn finished")
	}

	f.shell.Message(protocol.Result{Subtype: "success"})
	f.clk.Advance(DefaultSettleDelay - time.Millisecond)
	if f.frame.reloads != 0 {
		t.Fatal("refreshed before the settle delay")
	}
	f.clk.Advance(time.Millisecond)
	if f.frame.reloads != 1 {
		t.Fatalf("reloads = %d, want 1", f.frame.reloads)
	}
	if len(f.frame.busy) != 2 || !f.frame.busy[0] || f.frame.busy[1] {
		t.Errorf("busy transitions = %v", f.frame.busy)
	}
}

func TestShell_NoRefreshWithoutMarkupOrOnFailure(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Message(protocol.Thinking{})
	f.shell.Message(fileChanged("js/main.js"))
	f.shell.Message(protocol.Result{Subtype: "success"})

	for _, terminal := range []protocol.Outbound{
		protocol.Result{Subtype: "error_during_execution", IsError: true},
		protocol.Cancelled{Message: "Agent session was cancelled"},
		protocol.Error{Message: "Agent error: boom"},
	} {
		f.shell.Message(protocol.Thinking{})
		f.shell.Message(fileChanged("index.html"))
		f.shell.Message(terminal)
	}

	f.clk.Advance(time.Hour)
	if f.frame.reloads != 0 {
		t.Errorf("reloads = %d, want 0", f.frame.reloads)
	}
}

func TestShell_SideErrorsKeepTurnOpen(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Message(protocol.Thinking{})
	f.shell.Message(protocol.ToolUse{Tool: "Edit"})
	f.shell.Message(fileChanged("index.html"))
	f.shell.Message(protocol.Error{Message: protocol.TurnInFlightMessage})
	f.shell.Message(protocol.Error{Message: protocol.ResetFailedPrefix + "template missing"})

	if len(f.frame.busy) != 1 || !f.frame.busy[0] {
		t.Fatalf("busy transitions = %v, overlay should stay up", f.frame.busy)
	}

	f.shell.Message(protocol.Result{Subtype: "success"})
	f.clk.Advance(DefaultSettleDelay)
	if f.frame.reloads != 1 {
		t.Errorf("reloads = %d, markup change from the running turn was lost", f.frame.reloads)
	}
}

func TestShell_MarkupOutsideTurnCoalesces(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Message(fileChanged("index.html"))
	f.clk.Advance(500 * time.Millisecond)
	f.shell.Message(fileChanged("index.html"))
	f.clk.Advance(time.Hour)

	if f.frame.reloads != 1 {
		t.Errorf("reloads = %d, want 1", f.frame.reloads)
	}
}

func TestShell_ResetRefreshesImmediately(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Message(fileChanged("index.html"))
	f.shell.Message(protocol.ResetComplete{Files: []string{"index.html"}})
	if f.frame.reloads != 1 {
		t.Fatalf("reloads = %d, want 1", f.frame.reloads)
	}
	// The pending settle refresh was folded into the reset.
	f.clk.Advance(time.Hour)
	if f.frame.reloads != 1 {
		t.Errorf("reloads after settle = %d, want 1", f.frame.reloads)
	}
}

func TestShell_RendersToolError(t *testing.T) {
	hub := NewHub()
	toolBus := hub.Open(ChannelName)
	view := &fakeView{}
	s := NewShell(ShellConfig{Bus: hub.Open(ChannelName), View: view})
	defer s.Close()

	_ = toolBus.Post(ToolReady())
	_ = toolBus.Post(ToolError("Failed to reload script: js/main.js"))

	if len(view.entries) != 1 || view.entries[0].Kind != client.EntryError ||
		view.entries[0].Text != "Tool error: Failed to reload script: js/main.js" {
		t.Errorf("entries = %+v", view.entries)
	}
}

func TestShell_WithoutFramePostsRefresh(t *testing.T) {
	hub := NewHub()
	var tool inbox
	hub.Open(ChannelName).Subscribe(tool.add)
	s := NewShell(ShellConfig{Bus: hub.Open(ChannelName), View: &fakeView{}})
	defer s.Close()

	s.Message(protocol.ResetComplete{})
	if got := tool.types(); len(got) != 1 || got[0] != TypeRefreshTool {
		t.Errorf("tool received %v", got)
	}
}

type stubScript struct {
	src     string
	removed bool
	onError func(error)
}

func (s *stubScript) Src() string { return s.src }
func (s *stubScript) Remove()     { s.removed = true }

type stubDoc struct {
	scripts  []hotreload.Script
	inserted []*stubScript
}

func (d *stubDoc) Scripts() []hotreload.Script         { return d.scripts }
func (d *stubDoc) Stylesheets() []hotreload.Stylesheet { return nil }
func (d *stubDoc) CallHook(string) (bool, error)       { return false, nil }
func (d *stubDoc) InsertScriptBefore(_ hotreload.Script, src string, _ func(), onError func(error)) hotreload.Script {
	s := &stubScript{src: src, onError: onError}
	d.inserted = append(d.inserted, s)
	return s
}

func TestTool_ReloadsAndReports(t *testing.T) {
	hub := NewHub()
	shellBus := hub.Open(ChannelName)
	var shell inbox
	shellBus.Subscribe(shell.add)

	doc := &stubDoc{scripts: []hotreload.Script{&stubScript{src: "/js/main.js"}}}
	reloads := 0
	tool := NewTool(ToolConfig{
		Bus:      hub.Open(ChannelName),
		Document: doc,
		Reload:   func() { reloads++ },
		Clock:    clock.NewFake(time.Unix(0, 0)),
	})
	if err := tool.Start(); err != nil {
		t.Fatal(err)
	}
	defer tool.Close()

	if got := shell.types(); len(got) != 1 || got[0] != TypeToolReady {
		t.Fatalf("shell received %v", got)
	}

	_ = shellBus.Post(FileChanged("js/main.js", filechange.Changed))
	if len(doc.inserted) != 1 {
		t.Fatalf("inserted = %d", len(doc.inserted))
	}
	doc.inserted[0].onError(errors.New("404"))
	if got := shell.types(); len(got) != 2 || got[1] != TypeToolError {
		t.Fatalf("shell received %v", got)
	}
	if msg := shell.msgs[1].ErrorMessage(); msg != "Failed to reload script: js/main.js" {
		t.Errorf("tool-error message = %q", msg)
	}

	_ = shellBus.Post(RefreshTool())
	if reloads != 1 {
		t.Errorf("reloads = %d", reloads)
	}
}
