// Package filechange holds the vocabulary shared by the watcher, the wire
// protocol and the hot-reload client: change kinds and file roles.
package filechange

import (
	"path"
	"strings"
)

// Kind is what happened to a file.
type Kind string

const (
	Added   Kind = "added"
	Changed Kind = "changed"
	Removed Kind = "removed"
)

// Role tells consumers how a file can be reloaded.
type Role string

const (
	MainScript    Role = "main-script"
	UIScript      Role = "ui-script"
	SidebarScript Role = "sidebar-script"
	Script        Role = "script"
	Markup        Role = "markup"
	Style         Role = "style"
	Other         Role = "other"
)

// IsScript reports whether the role is any kind of script.
func (r Role) IsScript() bool {
	switch r {
	case MainScript, UIScript, SidebarScript, Script:
		return true
	}
	return false
}

// Classify derives the role of a slash-separated project-relative path.
func Classify(file string) Role {
	base := path.Base(strings.ReplaceAll(file, "\\", "/"))
	switch base {
	case "main.js":
		return MainScript
	case "ui.js":
		return UIScript
	case "ai-sidebar.js":
		return SidebarScript
	}
	switch strings.ToLower(path.Ext(base)) {
	case ".js":
		return Script
	case ".html":
		return Markup
	case ".css":
		return Style
	}
	return Other
}

// Change is one classified file change.
type Change struct {
	File string
	Kind Kind
	Role Role
}

// New builds a Change, classifying the file.
func New(file string, kind Kind) Change {
	return Change{File: file, Kind: kind, Role: Classify(file)}
}
