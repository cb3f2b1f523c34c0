package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const viewerOrigin = "https://viewer.panotour.example"

func TestCORS(t *testing.T) {
	tests := []struct {
		name          string
		origins       []string
		credentials   bool
		method        string
		origin        string
		wantStatus    int
		wantAllow     string
		wantCreds     string
		wantVary      bool
		wantPreflight bool
		wantNext      bool
	}{
		{
			name:       "disabled without origins",
			method:     http.MethodGet,
			origin:     viewerOrigin,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "allowed origin",
			origins:    []string{viewerOrigin},
			method:     http.MethodPost,
			origin:     viewerOrigin,
			wantStatus: http.StatusOK,
			wantAllow:  viewerOrigin,
			wantVary:   true,
			wantNext:   true,
		},
		{
			name:        "allowed origin with credentials",
			origins:     []string{viewerOrigin},
			credentials: true,
			method:      http.MethodGet,
			origin:      viewerOrigin,
			wantStatus:  http.StatusOK,
			wantAllow:   viewerOrigin,
			wantCreds:   "true",
			wantVary:    true,
			wantNext:    true,
		},
		{
			name:       "same origin request without header",
			origins:    []string{viewerOrigin},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantVary:   true,
			wantNext:   true,
		},
		{
			name:       "unknown origin",
			origins:    []string{viewerOrigin},
			method:     http.MethodGet,
			origin:     "https://evil.example",
			wantStatus: http.StatusForbidden,
			wantVary:   true,
		},
		{
			name:          "preflight",
			origins:       []string{" " + viewerOrigin + " ", ""},
			method:        http.MethodOptions,
			origin:        viewerOrigin,
			wantStatus:    http.StatusNoContent,
			wantAllow:     viewerOrigin,
			wantVary:      true,
			wantPreflight: true,
		},
		{
			name:       "preflight from unknown origin",
			origins:    []string{viewerOrigin},
			method:     http.MethodOptions,
			origin:     "https://evil.example",
			wantStatus: http.StatusForbidden,
			wantVary:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ViewerCORSConfig(tt.origins)
			cfg.AllowCredentials = tt.credentials

			nextCalled := false
			handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/sessions/9f1c/click", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if nextCalled != tt.wantNext {
				t.Errorf("next called = %v, want %v", nextCalled, tt.wantNext)
			}
			h := rr.Header()
			if got := h.Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := h.Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := h.Get("Vary") == "Origin"; got != tt.wantVary {
				t.Errorf("Vary: Origin present = %v, want %v", got, tt.wantVary)
			}
			if got := h.Get("Access-Control-Max-Age") != ""; got != tt.wantPreflight {
				t.Errorf("Max-Age present = %v, want %v", got, tt.wantPreflight)
			}
			if tt.wantStatus == http.StatusForbidden && !strings.Contains(rr.Body.String(), "origin_not_allowed") {
				t.Errorf("body %q missing error code", rr.Body.String())
			}
		})
	}
}

func TestViewerCORSConfig(t *testing.T) {
	cfg := ViewerCORSConfig([]string{viewerOrigin})
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	preflight := httptest.NewRequest(http.MethodOptions, "/tours/42/sessions", nil)
	preflight.Header.Set("Origin", viewerOrigin)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight)

	methods := rr.Header().Get("Access-Control-Allow-Methods")
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if !strings.Contains(methods, m) {
			t.Errorf("Allow-Methods %q missing %s", methods, m)
		}
	}
	if headers := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(headers, RequestIDHeader) {
		t.Errorf("Allow-Headers %q missing %s", headers, RequestIDHeader)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q, want 600", got)
	}

	get := httptest.NewRequest(http.MethodGet, "/sessions/9f1c", nil)
	get.Header.Set("Origin", viewerOrigin)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, get)

	exposed := rr.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"Location", "Retry-After", RequestIDHeader} {
		if !strings.Contains(exposed, h) {
			t.Errorf("Expose-Headers %q missing %s", exposed, h)
		}
	}
}
