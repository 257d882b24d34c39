package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatooly/toolbuilder/internal/toolfiles"
	"github.com/go-chi/chi/v5"
)

// Resetter restores the blank template and notifies connected surfaces.
type Resetter interface {
	Reset(ctx context.Context) ([]string, error)
}

// ClientSettings are the tunables browser surfaces read on start.
type ClientSettings struct {
	WSPath               string `json:"wsPath"`
	HasAPIKey            bool   `json:"hasApiKey"`
	ReconnectBaseDelayMs int64  `json:"reconnectBaseDelayMs"`
	ReconnectMaxAttempts int    `json:"reconnectMaxAttempts"`
	HeartbeatIntervalMs  int64  `json:"heartbeatIntervalMs"`
	ToolRefreshDelayMs   int64  `json:"toolRefreshDelayMs"`
	MaxAttachments       int    `json:"maxAttachments"`
	MaxAttachmentBytes   int64  `json:"maxAttachmentBytes"`
}

// BaseDelay returns the reconnect base delay.
func (s ClientSettings) BaseDelay() time.Duration {
	return time.Duration(s.ReconnectBaseDelayMs) * time.Millisecond
}

// Heartbeat returns the heartbeat interval.
func (s ClientSettings) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatIntervalMs) * time.Millisecond
}

// RefreshDelay returns the tool refresh settle delay.
func (s ClientSettings) RefreshDelay() time.Duration {
	return time.Duration(s.ToolRefreshDelayMs) * time.Millisecond
}

// ToolHandler handles tool file endpoints.
type ToolHandler struct {
	*Handler
	resetter Resetter
}

// NewToolHandler creates a tool handler. resetter may be nil.
func NewToolHandler(base *Handler, resetter Resetter) *ToolHandler {
	return &ToolHandler{Handler: base, resetter: resetter}
}

// RegisterRoutes registers tool routes.
func (h *ToolHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/config", h.GetConfig)
		r.Get("/validate", h.Validate)
		r.Post("/reset", h.Reset)
	})
}

// Health reports liveness and whether an API key is configured.
func (h *ToolHandler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"hasApiKey":   h.cfg.HasAPIKey(),
		"connections": h.connections(),
		"timestamp":   h.now().UTC().Format(time.RFC3339),
	})
}

// GetConfig returns the client tunables.
func (h *ToolHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cfg.Client
	JSON(w, http.StatusOK, ClientSettings{
		WSPath:               "/ws",
		HasAPIKey:            h.cfg.HasAPIKey(),
		ReconnectBaseDelayMs: c.ReconnectBaseDelay.Milliseconds(),
		ReconnectMaxAttempts: c.ReconnectMaxAttempts,
		HeartbeatIntervalMs:  c.HeartbeatInterval.Milliseconds(),
		ToolRefreshDelayMs:   c.ToolRefreshDelay.Milliseconds(),
		MaxAttachments:       h.cfg.Attachments.MaxCount,
		MaxAttachmentBytes:   h.cfg.Attachments.MaxBytes,
	})
}

// Validate runs the tool convention checks against the project root.
func (h *ToolHandler) Validate(w http.ResponseWriter, r *http.Request) {
	report := toolfiles.Validate(h.cfg.ProjectRoot)
	slog.Info("Tool validated", "passed", report.Passed, "total", report.Total)
	JSON(w, http.StatusOK, report)
}

// Reset restores the blank template.
func (h *ToolHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		Error(w, http.StatusNotImplemented, "reset_unavailable")
		return
	}
	files, err := h.resetter.Reset(r.Context())
	if errors.Is(err, toolfiles.ErrResetInProgress) {
		Error(w, http.StatusConflict, "reset_in_progress")
		return
	}
	if err != nil {
		slog.Error("Failed to reset tool files", "error", err)
		Error(w, http.StatusInternalServerError, "reset_failed")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"status": "reset", "files": files})
}
