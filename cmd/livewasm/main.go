//go:build js && wasm

// Live client compiled to WebAssembly and loaded by /_live/boot.js.
//
// The page decides the mode: a page with #tool-frame is the persistent shell,
// a page with only #ai-messages is a standalone sidebar, and anything else is
// the tool surface running inside the shell's iframe.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"syscall/js"
	"time"

	"github.com/chatooly/toolbuilder/internal/api"
	"github.com/chatooly/toolbuilder/internal/browser"
	"github.com/chatooly/toolbuilder/internal/client"
	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/chatooly/toolbuilder/internal/hotreload"
	"github.com/chatooly/toolbuilder/internal/ipc"
	"github.com/chatooly/toolbuilder/internal/logging"
	"github.com/chatooly/toolbuilder/internal/protocol"
)

func main() {
	logger := logging.SetupWithConfig("info", "text", browser.Console{})

	settings := loadSettings(logger)

	if frame, ok := browser.FindToolFrame(); ok {
		runShell(settings, frame, logger)
	} else if view, ok := browser.FindChatView(); ok {
		runSidebar(settings, view, logger)
	} else {
		runTool(logger)
	}

	select {}
}

func runShell(settings api.ClientSettings, frame browser.ToolFrame, logger *slog.Logger) {
	view, _ := browser.FindChatView()
	bus := browser.OpenBroadcastChannel(ipc.ChannelName, logger)
	shell := ipc.NewShell(ipc.ShellConfig{
		Bus:         bus,
		Frame:       frame,
		View:        view,
		SettleDelay: settings.RefreshDelay(),
		Logger:      logger,
	})
	c := newClient(settings, shell, logger)
	bindControls(c, settings, view, shell.UserPrompt, logger)
	c.Connect()
}

func runSidebar(settings api.ClientSettings, view browser.ChatView, logger *slog.Logger) {
	projector := client.NewProjector(view)
	reportError := func(file string, err error) {
		logger.Warn("Hot reload failed", "file", file, "error", err)
		view.Append(client.Entry{Kind: client.EntryError, Text: "Failed to reload script: " + file})
	}
	reloader := hotreload.New(browser.NewDocument(), hotreload.Options{
		OnMarkup: func(filechange.Change) { browser.ReloadPage() },
		OnError:  reportError,
		Logger:   logger,
	})
	projector.OnFileChange(func(fc protocol.FileChanged) { reloader.Apply(fc.Change()) })
	c := newClient(settings, projector, logger)
	bindControls(c, settings, view, projector.UserPrompt, logger)
	c.Connect()
}

func runTool(logger *slog.Logger) {
	tool := ipc.NewTool(ipc.ToolConfig{
		Bus:      browser.OpenBroadcastChannel(ipc.ChannelName, logger),
		Document: browser.NewDocument(),
		Reload:   browser.ReloadPage,
		Logger:   logger,
	})
	if err := tool.Start(); err != nil {
		logger.Warn("Failed to announce tool", "error", err)
	}
}

func newClient(settings api.ClientSettings, obs client.Observer, logger *slog.Logger) *client.Client {
	return client.New(client.Config{
		URL:               socketURL(settings.WSPath),
		BaseDelay:         settings.BaseDelay(),
		MaxAttempts:       settings.ReconnectMaxAttempts,
		HeartbeatInterval: settings.Heartbeat(),
		Dialer:            client.WebSocketDialer{},
		Logger:            logger,
	}, obs)
}

// bindControls wires the sidebar input, attachment, send and reset controls.
// Callbacks hand blocking work to goroutines so the browser event loop keeps
// running.
func bindControls(c *client.Client, settings api.ClientSettings, view client.View, echo func(string), logger *slog.Logger) {
	doc := js.Global().Get("document")
	input := doc.Call("getElementById", "ai-input")
	if input.IsNull() {
		return
	}

	atts := client.NewAttachments(settings.MaxAttachments, settings.MaxAttachmentBytes)
	label := doc.Call("getElementById", "ai-attachments")
	showPending := func() {
		if label.IsNull() {
			return
		}
		text := ""
		if n := atts.Len(); n > 0 {
			text = strconv.Itoa(n) + " image(s) attached"
		}
		label.Set("textContent", text)
	}
	attach := func(files []browser.File) {
		for _, f := range files {
			if err := atts.Fits(f.MediaType(), f.Size()); err != nil {
				view.Append(client.Entry{Kind: client.EntryError, Text: "Cannot attach " + f.Name() + ": " + err.Error()})
				continue
			}
			f.Read(func(data []byte, err error) {
				if err == nil {
					err = atts.Add(f.MediaType(), data)
				}
				if err != nil {
					logger.Warn("Failed to attach file", "file", f.Name(), "error", err)
					view.Append(client.Entry{Kind: client.EntryError, Text: "Cannot attach " + f.Name() + ": " + err.Error()})
				}
				showPending()
			})
		}
	}

	send := func() {
		text := strings.TrimSpace(input.Get("value").String())
		if (text == "" && atts.Len() == 0) || c.InFlight() {
			return
		}
		input.Set("value", "")
		images := atts.Take()
		showPending()
		echo(text)
		go func() {
			if err := c.Chat(text, images); err != nil {
				logger.Warn("Failed to send chat", "error", err)
			}
		}()
	}

	fileInput := doc.Call("getElementById", "ai-file-input")
	on(fileInput, "change", func(js.Value) { attach(browser.InputFiles(fileInput)) })
	on(input, "paste", func(ev js.Value) {
		if files := browser.PastedFiles(ev); len(files) > 0 {
			ev.Call("preventDefault")
			attach(files)
		}
	})
	on(doc.Call("getElementById", "ai-send"), "click", func(js.Value) { send() })
	on(input, "keydown", func(ev js.Value) {
		if ev.Get("key").String() == "Enter" && !ev.Get("shiftKey").Bool() {
			ev.Call("preventDefault")
			send()
		}
	})
	on(doc.Call("getElementById", "ai-cancel"), "click", func(js.Value) {
		go func() { _ = c.Cancel() }()
	})
	on(doc.Call("getElementById", "ai-reset"), "click", func(js.Value) {
		if !js.Global().Call("confirm", "Reset the tool to the blank template?").Bool() {
			return
		}
		go func() {
			if err := c.Reset(); err != nil {
				logger.Warn("Failed to request reset", "error", err)
			}
		}()
	})
}

func on(el js.Value, event string, fn func(js.Value)) {
	if el.IsNull() || el.IsUndefined() {
		return
	}
	el.Call("addEventListener", event, js.FuncOf(func(_ js.Value, args []js.Value) any {
		fn(args[0])
		return nil
	}))
}

// socketURL derives the WebSocket URL from the page location unless the page
// sets window.CHATOOLY_WS_URL.
func socketURL(path string) string {
	if override := js.Global().Get("CHATOOLY_WS_URL"); override.Type() == js.TypeString {
		return override.String()
	}
	if path == "" {
		path = "/ws"
	}
	loc := js.Global().Get("location")
	scheme := "ws://"
	if loc.Get("protocol").String() == "https:" {
		scheme = "wss://"
	}
	return scheme + loc.Get("host").String() + path
}

func origin() string {
	return js.Global().Get("location").Get("origin").String()
}

// loadSettings reads /api/config, falling back to defaults when the server is
// unreachable so the reconnect loop can still report it.
func loadSettings(logger *slog.Logger) api.ClientSettings {
	settings := api.ClientSettings{
		WSPath:               "/ws",
		ReconnectBaseDelayMs: 3000,
		ReconnectMaxAttempts: 5,
		HeartbeatIntervalMs:  30000,
		ToolRefreshDelayMs:   ipc.DefaultSettleDelay.Milliseconds(),
		MaxAttachments:       5,
		MaxAttachmentBytes:   5 << 20,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin()+"/api/config", nil)
	if err != nil {
		return settings
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Info("Using default client settings", "error", err)
		return settings
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return settings
	}
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		logger.Warn("Failed to decode client settings", "error", err)
	}
	return settings
}
