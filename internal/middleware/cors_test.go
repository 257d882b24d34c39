package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit", []string{"http://localhost:5173/"}, "http://localhost:5173", http.MethodGet, "http://localhost:5173", "true", http.StatusTeapot},
		{"wildcard", []string{"*"}, "http://tool.example", http.MethodGet, "http://tool.example", "", http.StatusTeapot},
		{"rejected", []string{"http://localhost:5173"}, "http://evil.example", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight", []string{"*"}, "http://tool.example", http.MethodOptions, "http://tool.example", "", http.StatusOK},
		{"no origin", []string{"*"}, "", http.MethodGet, "", "", http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/health", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, r)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
