// Package api provides HTTP handlers for the tool builder API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chatooly/toolbuilder/internal/config"
)

// ConnectionCounter reports the number of open chat connections.
type ConnectionCounter interface {
	Connections() int
}

// Handler provides common handler utilities.
type Handler struct {
	cfg   *config.Config
	conns ConnectionCounter
	now   func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(cfg *config.Config, conns ConnectionCounter) *Handler {
	return &Handler{cfg: cfg, conns: conns, now: time.Now}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) connections() int {
	if h.conns == nil {
		return 0
	}
	return h.conns.Connections()
}
