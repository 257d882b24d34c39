// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	ProjectRoot string
	APIKey      string
	Agent       AgentConfig
	Watch       WatchConfig
	Attachments AttachmentConfig
	Reset       ResetConfig
	Client      ClientConfig

	ConversationLog ConversationLogConfig
}

// AgentConfig configures the external agent runtime.
type AgentConfig struct {
	Binary           string
	Model            string
	MaxTurns         int
	PermissionMode   string
	AllowedTools     []string
	SystemPromptPath string
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Patterns []string
	Ignore   []string
	Debounce time.Duration
}

// AttachmentConfig bounds staged chat attachments.
type AttachmentConfig struct {
	Dir      string
	MaxCount int
	MaxBytes int64
}

// ResetConfig locates the blank template restored by a reset request.
type ResetConfig struct {
	TemplateDir string
	Files       []string
}

// ClientConfig is handed to browser surfaces through /api/config.
type ClientConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	HeartbeatInterval    time.Duration
	ToolRefreshDelay     time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	root := getEnv("PROJECT_ROOT", "")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve PROJECT_ROOT: %w", err)
	}

	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		ProjectRoot: root,
		APIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		Agent: AgentConfig{
			Binary:           getEnv("AGENT_BINARY", "claude"),
			Model:            getEnv("AGENT_MODEL", "claude-sonnet-4-20250514"),
			MaxTurns:         getEnvInt("AGENT_MAX_TURNS", 50),
			PermissionMode:   getEnv("AGENT_PERMISSION_MODE", "acceptEdits"),
			AllowedTools:     getEnvList("AGENT_ALLOWED_TOOLS", []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"}),
			SystemPromptPath: getEnv("SYSTEM_PROMPT_PATH", filepath.Join("server", "system-prompt.md")),
		},
		Watch: WatchConfig{
			Patterns: getEnvList("WATCH_PATTERNS", []string{"js/*.js", "index.html", "css/*.css"}),
			Ignore: getEnvList("WATCH_IGNORE", []string{
				"**/node_modules", "**/server", "**/.git", "**/package*.json", "**/.env*",
			}),
			Debounce: getEnvDuration("WATCH_DEBOUNCE", 300*time.Millisecond),
		},
		Attachments: AttachmentConfig{
			Dir:      getEnv("ATTACHMENT_DIR", filepath.Join(os.TempDir(), "chatooly-attachments")),
			MaxCount: getEnvInt("MAX_ATTACHMENTS", 5),
			MaxBytes: int64(getEnvInt("MAX_ATTACHMENT_BYTES", 5*1024*1024)),
		},
		Reset: ResetConfig{
			TemplateDir: getEnv("TEMPLATE_DIR", filepath.Join("templates", "blank")),
			Files:       getEnvList("TOOL_FILES", []string{"index.html", "js/main.js", "js/ui.js", "js/chatooly-config.js", "css/styles.css"}),
		},
		Client: ClientConfig{
			ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", 3*time.Second),
			ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
			HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			ToolRefreshDelay:     getEnvDuration("TOOL_REFRESH_DELAY", 1500*time.Millisecond),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("AGENT_BINARY cannot be empty")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("AGENT_MAX_TURNS must be > 0")
	}
	if len(c.Watch.Patterns) == 0 {
		return fmt.Errorf("WATCH_PATTERNS cannot be empty")
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("WATCH_DEBOUNCE must be > 0")
	}
	if c.Attachments.MaxCount < 0 || c.Attachments.MaxBytes <= 0 {
		return fmt.Errorf("attachment limits must be positive")
	}
	if c.Client.ReconnectBaseDelay <= 0 || c.Client.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("reconnect settings must be positive")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// HasAPIKey reports whether an agent API key is configured.
func (c *Config) HasAPIKey() bool { return c.APIKey != "" }

// MaxFrameBytes bounds one inbound WebSocket frame: every attachment at its
// size limit as base64, plus 1 MiB for the prompt and framing.
func (c *Config) MaxFrameBytes() int64 {
	b64 := (c.Attachments.MaxBytes + 2) / 3 * 4
	return int64(c.Attachments.MaxCount)*b64 + 1<<20
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// TemplatePath resolves the template directory against the project root.
func (c *Config) TemplatePath() string {
	if filepath.IsAbs(c.Reset.TemplateDir) {
		return c.Reset.TemplateDir
	}
	return filepath.Join(c.ProjectRoot, c.Reset.TemplateDir)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("300ms") or bare milliseconds ("300").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
