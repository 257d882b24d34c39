package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PROJECT_ROOT", root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "3001" {
		t.Errorf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.Agent.MaxTurns != 50 || cfg.Agent.PermissionMode != "acceptEdits" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Watch.Debounce != 300*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Client.ReconnectBaseDelay != 3*time.Second || cfg.Client.ReconnectMaxAttempts != 5 {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Client.HeartbeatInterval != 30*time.Second || cfg.Client.ToolRefreshDelay != 1500*time.Millisecond {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Attachments.MaxCount != 5 || cfg.Attachments.MaxBytes != 5*1024*1024 {
		t.Errorf("attachments = %+v", cfg.Attachments)
	}
	if got, want := cfg.TemplatePath(), filepath.Join(root, "templates", "blank"); got != want {
		t.Errorf("TemplatePath = %q, want %q", got, want)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROJECT_ROOT", t.TempDir())
	t.Setenv("WATCH_DEBOUNCE", "50")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("AGENT_ALLOWED_TOOLS", "Read, Edit ,")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch.Debounce != 50*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Client.HeartbeatInterval != 2*time.Second {
		t.Errorf("Heartbeat = %v", cfg.Client.HeartbeatInterval)
	}
	if len(cfg.Agent.AllowedTools) != 2 || cfg.Agent.AllowedTools[1] != "Edit" {
		t.Errorf("AllowedTools = %v", cfg.Agent.AllowedTools)
	}
	if !cfg.HasAPIKey() {
		t.Error("HasAPIKey should be true")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Setenv("PROJECT_ROOT", t.TempDir())
	t.Setenv("AGENT_MAX_TURNS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for AGENT_MAX_TURNS=0")
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:3001", true},
		{"https://tools.example.com", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestMaxFrameBytes(t *testing.T) {
	c := &Config{Attachments: AttachmentConfig{MaxCount: 5, MaxBytes: 5 << 20}}
	if got, min := c.MaxFrameBytes(), int64(5*(5<<20)*4/3); got <= min {
		t.Errorf("MaxFrameBytes = %d, want more than %d", got, min)
	}
	c.Attachments.MaxCount = 0
	if got := c.MaxFrameBytes(); got != 1<<20 {
		t.Errorf("MaxFrameBytes without attachments = %d", got)
	}
}
