package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"probe is public", "/healthz", "", http.StatusNoContent},
		{"metrics is public", "/metrics", "", http.StatusNoContent},
		{"body table is public", "/api/v1/bodies", "", http.StatusNoContent},
		{"body path is public", "/api/v1/bodies/about/path", "", http.StatusNoContent},
		{"stream needs token", "/api/v1/stream/keyframes", "", http.StatusUnauthorized},
		{"cache stats needs token", "/api/v1/cache/stats", "", http.StatusUnauthorized},
		{"wrong token", "/api/v1/cache/stats", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/cache/stats", "Basic s3cret", http.StatusUnauthorized},
		{"bare token", "/api/v1/cache/stats", "s3cret", http.StatusUnauthorized},
		{"valid token", "/api/v1/cache/stats", "Bearer s3cret", http.StatusNoContent},
		{"case-insensitive scheme", "/api/v1/cache/stats", "bearer s3cret", http.StatusNoContent},
		{"query token", "/api/v1/stream/ws?access_token=s3cret", "", http.StatusNoContent},
		{"bad query token", "/api/v1/stream/ws?access_token=x", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
