// Package toolfiles manages the tool's source files: restoring them from the
// blank template and checking them against the platform conventions.
package toolfiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrResetInProgress is returned when a reset is requested while one runs.
var ErrResetInProgress = errors.New("a reset is already in progress")

// Restorer copies the template's managed files over the project's.
type Restorer struct {
	root     string
	template string
	files    []string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewRestorer creates a restorer for files (slash-relative paths).
func NewRestorer(root, templateDir string, files []string, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{root: root, template: templateDir, files: files, logger: logger}
}

// Reset restores every managed file that exists in the template and returns
// the restored paths. A file missing from the template is skipped.
func (r *Restorer) Reset(ctx context.Context) ([]string, error) {
	if !r.mu.TryLock() {
		r.logger.Warn("Reset already in progress")
		return nil, ErrResetInProgress
	}
	defer r.mu.Unlock()

	if info, err := os.Stat(r.template); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("template directory %s not found", r.template)
	}

	var restored []string
	for _, rel := range r.files {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		src := filepath.Join(r.template, filepath.FromSlash(rel))
		data, err := os.ReadFile(src)
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("Template has no copy of file, skipping", "file", rel)
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("read template %s: %w", rel, err)
		}
		if err := writeAtomic(filepath.Join(r.root, filepath.FromSlash(rel)), data); err != nil {
			return restored, fmt.Errorf("restore %s: %w", rel, err)
		}
		restored = append(restored, rel)
	}
	r.logger.Info("Tool reset to blank template", "files", len(restored))
	return restored, nil
}

func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".reset-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
