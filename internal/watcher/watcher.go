// Package watcher observes the tool's source files and emits debounced,
// classified change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chatooly/toolbuilder/internal/clock"
	"github.com/chatooly/toolbuilder/internal/filechange"
	"github.com/fsnotify/fsnotify"
	"github.com/moby/patternmatcher"
)

// Event is one debounced change with a project-relative, slash-separated path.
type Event = filechange.Change

// Config controls what is watched.
type Config struct {
	Root     string
	Patterns []string
	Ignore   []string
	Debounce time.Duration
	Clock    clock.Clock
}

// Watcher watches the directories implied by the allow-list patterns.
type Watcher struct {
	root     string
	window   time.Duration
	clock    clock.Clock
	include  *patternmatcher.PatternMatcher
	exclude  *patternmatcher.PatternMatcher
	fs       *fsnotify.Watcher
	logger   *slog.Logger
	wantDirs map[string]bool

	mu      sync.Mutex
	watched map[string]bool
}

// New creates a watcher. Call Run to start emitting events.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	include, err := patternmatcher.New(cfg.Patterns)
	if err != nil {
		return nil, fmt.Errorf("parse watch patterns: %w", err)
	}
	exclude, err := patternmatcher.New(cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("parse ignore patterns: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		window:   cfg.Debounce,
		clock:    cfg.Clock,
		include:  include,
		exclude:  exclude,
		fs:       fsw,
		logger:   logger,
		wantDirs: watchDirs(cfg.Patterns),
		watched:  make(map[string]bool),
	}
	for dir := range w.wantDirs {
		w.addDir(dir)
	}
	return w, nil
}

// watchDirs derives the directories to observe from the allow-list: the
// static prefix of each pattern, always including the root.
func watchDirs(patterns []string) map[string]bool {
	dirs := map[string]bool{".": true}
	for _, p := range patterns {
		dir := filepath.Dir(filepath.FromSlash(p))
		for strings.ContainsAny(dir, "*?[") {
			dir = filepath.Dir(dir)
		}
		dirs[dir] = true
	}
	return dirs
}

func (w *Watcher) addDir(rel string) {
	abs := filepath.Join(w.root, rel)
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[rel] {
		return
	}
	if err := w.fs.Add(abs); err != nil {
		w.logger.Warn("Failed to watch directory", "dir", abs, "error", err)
		return
	}
	w.watched[rel] = true
	w.logger.Debug("Watching directory", "dir", abs)
}

// Match reports whether a project-relative path is allowed and not ignored.
func (w *Watcher) Match(rel string) bool {
	rel = filepath.FromSlash(rel)
	if ignored, err := w.exclude.MatchesOrParentMatches(rel); err != nil || ignored {
		return false
	}
	ok, err := w.include.MatchesOrParentMatches(rel)
	return err == nil && ok
}

// Run processes filesystem events until ctx is done, delivering debounced
// events to sink. Watcher errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, sink func(Event)) error {
	deb := newDebouncer(w.clock, w.window, sink)
	defer deb.stop()

	w.logger.Info("File watcher ready", "root", w.root, "debounce", w.window.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event, deb)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("File watcher event overflow", "error", err)
				continue
			}
			w.logger.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, deb *debouncer) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	if event.Has(fsnotify.Create) && w.wantDirs[rel] {
		w.addDir(rel)
		return
	}
	kind, ok := kindOf(event)
	if !ok || !w.Match(rel) {
		return
	}
	change := filechange.New(filepath.ToSlash(rel), kind)
	w.logger.Debug("File change observed", "file", change.File, "kind", string(change.Kind))
	deb.add(change)
}

func kindOf(event fsnotify.Event) (filechange.Kind, bool) {
	switch {
	case event.Has(fsnotify.Create):
		return filechange.Added, true
	case event.Has(fsnotify.Write):
		return filechange.Changed, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return filechange.Removed, true
	}
	return "", false
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
