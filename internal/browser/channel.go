//go:build js && wasm

package browser

import (
	"log/slog"
	"sync"
	"syscall/js"

	"github.com/chatooly/toolbuilder/internal/ipc"
)

// BroadcastChannel is an ipc.Bus over the browser's BroadcastChannel, which
// never delivers a message back to the posting context.
type BroadcastChannel struct {
	ch     js.Value
	json   js.Value
	onMsg  js.Func
	logger *slog.Logger

	mu   sync.Mutex
	next int
	subs map[int]func(ipc.Message)
}

var _ ipc.Bus = (*BroadcastChannel)(nil)

// OpenBroadcastChannel joins the named channel.
func OpenBroadcastChannel(name string, logger *slog.Logger) *BroadcastChannel {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BroadcastChannel{
		ch:     js.Global().Get("BroadcastChannel").New(name),
		json:   js.Global().Get("JSON"),
		logger: logger,
		subs:   make(map[int]func(ipc.Message)),
	}
	b.onMsg = js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		raw := b.json.Call("stringify", args[0].Get("data")).String()
		m, err := ipc.Decode([]byte(raw))
		if err != nil {
			b.logger.Debug("Ignoring bus message", "error", err)
			return nil
		}
		b.deliver(m)
		return nil
	})
	b.ch.Set("onmessage", b.onMsg)
	return b
}

// Post implements ipc.Bus.
func (b *BroadcastChannel) Post(m ipc.Message) error {
	data, err := ipc.Encode(m)
	if err != nil {
		return err
	}
	b.ch.Call("postMessage", b.json.Call("parse", string(data)))
	return nil
}

// Subscribe implements ipc.Bus.
func (b *BroadcastChannel) Subscribe(fn func(ipc.Message)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *BroadcastChannel) deliver(m ipc.Message) {
	b.mu.Lock()
	handlers := make([]func(ipc.Message), 0, len(b.subs))
	for i := 0; i < b.next; i++ {
		if fn, ok := b.subs[i]; ok {
			handlers = append(handlers, fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(m)
	}
}

// Close implements ipc.Bus.
func (b *BroadcastChannel) Close() error {
	b.ch.Call("close")
	b.onMsg.Release()
	return nil
}
