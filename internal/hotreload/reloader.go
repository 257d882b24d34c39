// Package hotreload patches a running page in place when one of its files
// changes: scripts are swapped for cache-busted copies, stylesheets get a new
// href, and markup changes are handed to a refresh notifier.
package hotreload

import (
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/filechange"
)

// Script is a loaded script element.
type Script interface {
	// Src returns the src attribute as written in the page.
	Src() string
	Remove()
}

// Stylesheet is a linked stylesheet element.
type Stylesheet interface {
	Href() string
	SetHref(href string)
}

// Document is the page being patched.
type Document interface {
	Scripts() []Script
	Stylesheets() []Stylesheet
	// InsertScriptBefore adds a script loading src immediately before ref.
	// Exactly one of onLoad or onError is called once loading settles.
	InsertScriptBefore(ref Script, src string, onLoad func(), onError func(error)) Script
	// CallHook invokes a global function by name, reporting whether it exists.
	CallHook(name string) (bool, error)
}

// Action is what Apply did with a change.
type Action string

const (
	ActionNone    Action = "none"
	ActionSkipped Action = "skipped"
	ActionScript  Action = "script"
	ActionStyle   Action = "style"
	ActionMarkup  Action = "markup"
)

// DefaultSkip names the scripts that must never be swapped: the bridge and
// sidebar scripts run the reload machinery itself.
var DefaultSkip = []string{"tool-ipc", "ai-sidebar"}

// DefaultHooks are the re-render functions called after a script reload.
var DefaultHooks = []string{"render", "draw"}

// Options configures a Reloader.
type Options struct {
	// Skip lists substrings; a script whose path contains one is not reloaded.
	Skip  []string
	Hooks []string
	// OnMarkup is called for markup changes, which cannot be patched.
	OnMarkup func(filechange.Change)
	// OnError is called when a replacement script fails to load or a hook fails.
	OnError func(file string, err error)
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Reloader applies file changes to a Document.
type Reloader struct {
	doc      Document
	skip     []string
	hooks    []string
	onMarkup func(filechange.Change)
	onError  func(string, error)
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a reloader for doc.
func New(doc Document, opts Options) *Reloader {
	r := &Reloader{
		doc:      doc,
		skip:     opts.Skip,
		hooks:    opts.Hooks,
		onMarkup: opts.OnMarkup,
		onError:  opts.OnError,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if r.skip == nil {
		r.skip = DefaultSkip
	}
	if r.hooks == nil {
		r.hooks = DefaultHooks
	}
	if r.onMarkup == nil {
		r.onMarkup = func(filechange.Change) {}
	}
	if r.onError == nil {
		r.onError = func(string, error) {}
	}
	if r.clock == nil {
		r.clock = clock.Real{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Apply reacts to one change.
func (r *Reloader) Apply(ch filechange.Change) Action {
	if ch.Kind == filechange.Removed {
		return ActionNone
	}
	role := ch.Role
	if role == "" {
		role = filechange.Classify(ch.File)
	}
	switch {
	case role.IsScript():
		return r.reloadScript(ch.File)
	case role == filechange.Style:
		return r.reloadStylesheet(ch.File)
	case role == filechange.Markup:
		r.onMarkup(ch)
		return ActionMarkup
	}
	return ActionNone
}

func (r *Reloader) reloadScript(file string) Action {
	for _, s := range r.skip {
		if strings.Contains(file, s) {
			return ActionSkipped
		}
	}
	target := assetPath(file)
	var old Script
	for _, s := range r.doc.Scripts() {
		if assetPath(s.Src()) == target {
			old = s
			break
		}
	}
	if old == nil {
		r.logger.Debug("Changed script is not loaded", "file", file)
		return ActionNone
	}

	var replacement Script
	replacement = r.doc.InsertScriptBefore(old, r.bust(old.Src()),
		func() {
			old.Remove()
			r.logger.Info("Script reloaded", "file", file)
			r.runHooks(file)
		},
		func(err error) {
			if replacement != nil {
				replacement.Remove()
			}
			r.onError(file, fmt.Errorf("reload script %s: %w", file, err))
		},
	)
	return ActionScript
}

func (r *Reloader) runHooks(file string) {
	for _, name := range r.hooks {
		if _, err := r.doc.CallHook(name); err != nil {
			r.onError(file, fmt.Errorf("%s hook after reloading %s: %w", name, file, err))
		}
	}
}

func (r *Reloader) reloadStylesheet(file string) Action {
	target := assetPath(file)
	for _, s := range r.doc.Stylesheets() {
		if assetPath(s.Href()) == target {
			s.SetHref(r.bust(s.Href()))
			r.logger.Info("Stylesheet reloaded", "file", file)
			return ActionStyle
		}
	}
	return ActionNone
}

// bust replaces the query of ref with a fresh timestamp, keeping ref's own
// relative or absolute form.
func (r *Reloader) bust(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return ref + "?t=" + strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
}

// assetPath reduces a file name, src or href to a root-relative path without
// query, fragment, scheme or host, so "js/main.js", "./js/main.js",
// "/js/main.js?t=1" and "http://host/js/main.js" compare equal.
func assetPath(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.Index(ref, "://"); i >= 0 {
		rest := ref[i+3:]
		j := strings.IndexByte(rest, '/')
		if j < 0 {
			return ""
		}
		ref = rest[j:]
	}
	return strings.TrimPrefix(path.Clean("/"+ref), "/")
}
