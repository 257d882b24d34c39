//go:build js && wasm

package browser

import (
	"syscall/js"

	"github.com/chatooly/toolbuilder/internal/client"
)

var statusLabels = map[client.Status]string{
	client.StatusConnecting:   "Connecting...",
	client.StatusConnected:    "Connected",
	client.StatusThinking:     "Thinking...",
	client.StatusDisconnected: "Disconnected",
}

// ChatView renders the sidebar transcript and status indicator.
type ChatView struct {
	doc      js.Value
	status   js.Value
	messages js.Value
	typing   js.Value
}

var _ client.View = ChatView{}

// FindChatView locates the sidebar elements, reporting false when the page
// has no sidebar.
func FindChatView() (ChatView, bool) {
	v := ChatView{
		doc:      js.Global().Get("document"),
		status:   byID("ai-status"),
		messages: byID("ai-messages"),
		typing:   byID("ai-typing"),
	}
	return v, exists(v.messages)
}

// SetStatus implements client.View.
func (v ChatView) SetStatus(s client.Status) {
	if exists(v.status) {
		v.status.Set("className", "ai-status ai-status-"+string(s))
		v.status.Set("textContent", statusLabels[s])
	}
	if exists(v.typing) {
		display := "none"
		if s == client.StatusThinking {
			display = "flex"
		}
		v.typing.Get("style").Set("display", display)
	}
}

// Append implements client.View.
func (v ChatView) Append(e client.Entry) {
	if !exists(v.messages) {
		return
	}
	if welcome := v.messages.Call("querySelector", ".ai-welcome"); exists(welcome) {
		welcome.Call("remove")
	}
	el := v.doc.Call("createElement", "div")
	el.Set("className", "ai-message ai-message-"+string(e.Kind))
	el.Set("textContent", e.Text)
	v.messages.Call("appendChild", el)
	v.messages.Set("scrollTop", v.messages.Get("scrollHeight"))
}

// ToolFrame is the iframe hosting the tool surface plus its loading overlay.
type ToolFrame struct {
	frame   js.Value
	overlay js.Value
}

// FindToolFrame locates the tool iframe, reporting false outside the shell.
func FindToolFrame() (ToolFrame, bool) {
	f := ToolFrame{frame: byID("tool-frame"), overlay: byID("tool-loading-overlay")}
	return f, exists(f.frame)
}

// Reload reloads the iframe by resetting its src.
func (f ToolFrame) Reload() {
	f.frame.Set("src", f.frame.Get("src"))
}

// SetBusy shows or hides the loading overlay.
func (f ToolFrame) SetBusy(busy bool) {
	if !exists(f.overlay) {
		return
	}
	display := "none"
	if busy {
		display = "flex"
	}
	f.overlay.Get("style").Set("display", display)
}
