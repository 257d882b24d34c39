//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatooly/toolbuilder/internal/config"
	"github.com/chatooly/toolbuilder/internal/toolfiles"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fixedConns int

func (n fixedConns) Connections() int { return int(n) }

type fakeResetter struct {
	files []string
	err   error
}

func (f *fakeResetter) Reset(context.Context) ([]string, error) { return f.files, f.err }

func testConfig(root string) *config.Config {
	return &config.Config{
		ProjectRoot: root,
		APIKey:      "sk-test",
		Attachments: config.AttachmentConfig{MaxCount: 5, MaxBytes: 5 << 20},
		Client: config.ClientConfig{
			ReconnectBaseDelay:   3 * time.Second,
			ReconnectMaxAttempts: 5,
			HeartbeatInterval:    30 * time.Second,
			ToolRefreshDelay:     1500 * time.Millisecond,
		},
	}
}

func newRouter(cfg *config.Config, resetter Resetter) http.Handler {
	h := NewToolHandler(NewHandler(cfg, fixedConns(2)), resetter)
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	r := newRouter(testConfig(t.TempDir()), nil)

	var got map[string]interface{}
	if code := do(t, r, http.MethodGet, "/api/health", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got["status"] != "ok" || got["hasApiKey"] != true || got["connections"] != float64(2) {
		t.Errorf("health = %v", got)
	}
	if got["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
}

func TestGetConfig(t *testing.T) {
	r := newRouter(testConfig(t.TempDir()), nil)

	var got ClientSettings
	do(t, r, http.MethodGet, "/api/config", &got)
	if got.WSPath != "/ws" || got.BaseDelay() != 3*time.Second || got.ReconnectMaxAttempts != 5 {
		t.Errorf("config = %+v", got)
	}
	if got.Heartbeat() != 30*time.Second || got.RefreshDelay() != 1500*time.Millisecond {
		t.Errorf("config = %+v", got)
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte(`<canvas id="chatooly-canvas">`), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newRouter(testConfig(root), nil)

	var got toolfiles.Report
	do(t, r, http.MethodGet, "/api/validate", &got)
	if got.Total != 4 || got.Passed != 1 {
		t.Errorf("report = %+v", got)
	}
}

func TestReset(t *testing.T) {
	tests := []struct {
		name     string
		resetter Resetter
		want     int
	}{
		{"ok", &fakeResetter{files: []string{"index.html"}}, http.StatusOK},
		{"busy", &fakeResetter{err: toolfiles.ErrResetInProgress}, http.StatusConflict},
		{"failed", &fakeResetter{err: errors.New("disk full")}, http.StatusInternalServerError},
		{"unavailable", nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(testConfig(t.TempDir()), tt.resetter)
			if code := do(t, r, http.MethodPost, "/api/reset", nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}
