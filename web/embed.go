// Package web serves the embedded live client assets and the tool project
// being edited.
//
// The live/ directory holds boot.js; live.wasm and wasm_exec.js are produced
// by go generate. Without them the shell and tool pages still load but have
// no live connection.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
)

//go:generate sh -c "GOOS=js GOARCH=wasm go build -o live/live.wasm ../cmd/livewasm"
//go:generate sh -c "cp \"$(go env GOROOT)/lib/wasm/wasm_exec.js\" live/wasm_exec.js"

//go:embed all:live
var liveFS embed.FS

// LivePrefix is the URL prefix the live assets are mounted under.
const LivePrefix = "/_live/"

// LiveHandler returns an http.Handler that serves the embedded live assets.
// Mount it at LivePrefix.
func LiveHandler() http.Handler {
	subFS, err := fs.Sub(liveFS, "live")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(subFS))
	return http.StripPrefix(LivePrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".wasm") {
			w.Header().Set("Content-Type", "application/wasm")
		}
		fileServer.ServeHTTP(w, r)
	}))
}

// ShellPage is the path of the embedded shell page hosting the tool iframe
// and the chat sidebar.
const ShellPage = LivePrefix + "shell.html"

// serverFiles are never served from the project root, whatever deny holds.
// The server itself often runs from the same directory as the tool.
var serverFiles = []string{"**/*.go", "go.mod", "go.sum", "**/*.md", "templates", "**/.git"}

// ProjectHandler serves files under root, hiding anything matched by deny
// and the server's own sources. Responses are marked uncacheable so
// hot-reloaded files are always fresh.
func ProjectHandler(root string, deny []string) (http.Handler, error) {
	pm, err := patternmatcher.New(append(append([]string(nil), deny...), serverFiles...))
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if rel != "" {
			denied, err := pm.MatchesOrParentMatches(filepath.FromSlash(rel))
			if err != nil || denied {
				slog.Debug("web: denied project path", "path", rel)
				http.NotFound(w, r)
				return
			}
		}
		w.Header().Set("Cache-Control", "no-store")
		fileServer.ServeHTTP(w, r)
	}), nil
}
