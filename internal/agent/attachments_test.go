package agent

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chatooly/toolbuilder/internal/protocol"
)

func png(data string) protocol.Attachment {
	return protocol.Attachment{Type: "base64", MediaType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte(data))}
}

func TestStager_StageAndCleanup(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir, 5, 1024, nil)

	paths := s.Stage([]protocol.Attachment{png("one"), png("two")})
	if len(paths) != 2 {
		t.Fatalf("staged %d, want 2", len(paths))
	}
	for _, p := range paths {
		if filepath.Dir(p) != dir || filepath.Ext(p) != ".png" {
			t.Errorf("unexpected path %q", p)
		}
	}
	data, err := os.ReadFile(paths[1])
	if err != nil || string(data) != "two" {
		t.Fatalf("content = %q, err = %v", data, err)
	}

	s.Cleanup(paths)
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	s.Cleanup(paths)
}

func TestStager_SkipsInvalidAttachments(t *testing.T) {
	s := NewStager(t.TempDir(), 5, 4, nil)
	paths := s.Stage([]protocol.Attachment{
		{MediaType: "image/png", Data: "!!not base64"},
		{MediaType: "text/plain", Data: base64.StdEncoding.EncodeToString([]byte("hi"))},
		png("too large"),
		png("ok"),
	})
	if len(paths) != 1 {
		t.Fatalf("staged %d, want 1", len(paths))
	}
}

func TestStager_EnforcesMaxCount(t *testing.T) {
	s := NewStager(t.TempDir(), 2, 1024, nil)
	paths := s.Stage([]protocol.Attachment{png("a"), png("b"), png("c")})
	if len(paths) != 2 {
		t.Fatalf("staged %d, want 2", len(paths))
	}
}

func TestPromptWithAttachments(t *testing.T) {
	if got := PromptWithAttachments("hello", nil); got != "hello" {
		t.Errorf("got %q", got)
	}
	got := PromptWithAttachments("match this", []string{"/tmp/a.png", "/tmp/b.png"})
	if !strings.HasPrefix(got, "match this\n\n") || !strings.Contains(got, "- /tmp/a.png\n- /tmp/b.png") {
		t.Errorf("got %q", got)
	}
}

func TestFallbackSystemPromptSelfCheck(t *testing.T) {
	if !strings.Contains(FallbackSystemPrompt, "curl -s http://localhost:3001/api/validate") {
		t.Error("fallback prompt does not tell the agent how to validate the tool")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	root := t.TempDir()
	if got := LoadSystemPrompt(root, "server/system-prompt.md", nil); got != FallbackSystemPrompt {
		t.Error("missing file should use the fallback prompt")
	}
	if err := os.MkdirAll(filepath.Join(root, "server"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "server", "system-prompt.md"), []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LoadSystemPrompt(root, "server/system-prompt.md", nil); got != "custom" {
		t.Errorf("got %q", got)
	}
}
