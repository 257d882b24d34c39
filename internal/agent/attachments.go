package agent

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatooly/toolbuilder/internal/protocol"
	"github.com/google/uuid"
)

// Stager writes chat attachments to temporary files the runtime can read.
type Stager struct {
	Dir      string
	MaxCount int
	MaxBytes int64
	Logger   *slog.Logger
}

// NewStager creates a stager rooted at dir.
func NewStager(dir string, maxCount int, maxBytes int64, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{Dir: dir, MaxCount: maxCount, MaxBytes: maxBytes, Logger: logger}
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Stage writes each acceptable attachment and returns the absolute paths.
// Attachments that fail to decode or write are logged and skipped.
func (s *Stager) Stage(atts []protocol.Attachment) []string {
	if len(atts) == 0 {
		return nil
	}
	if s.MaxCount > 0 && len(atts) > s.MaxCount {
		s.Logger.Warn("Too many attachments, extra ones dropped", "count", len(atts), "max", s.MaxCount)
		atts = atts[:s.MaxCount]
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		s.Logger.Error("Failed to create attachment directory", "dir", s.Dir, "error", err)
		return nil
	}

	var paths []string
	for i, att := range atts {
		path, err := s.stageOne(att)
		if err != nil {
			s.Logger.Warn("Failed to stage attachment", "index", i, "media_type", att.MediaType, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (s *Stager) stageOne(att protocol.Attachment) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(att.MediaType))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("unsupported media type %q", att.MediaType)
	}
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return "", fmt.Errorf("decode attachment: %w", err)
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return "", fmt.Errorf("attachment is %d bytes, limit %d", len(data), s.MaxBytes)
	}
	ext, ok := imageExtensions[mediaType]
	if !ok {
		ext = ".img"
	}
	path := filepath.Join(s.Dir, uuid.NewString()+ext)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// Cleanup removes staged files. Failures are logged, never returned.
func (s *Stager) Cleanup(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.Logger.Warn("Failed to remove staged attachment", "path", p, "error", err)
		}
	}
}

// PromptWithAttachments appends references to the staged files.
func PromptWithAttachments(prompt string, paths []string) string {
	if len(paths) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("The user attached the following images. Read them before answering:\n")
	for _, p := range paths {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
