package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		key    string
		target string
		header map[string]string
		want   int
	}{
		{"disabled", "", "/api/v1/tools", nil, http.StatusOK},
		{"missing", "k1", "/api/v1/tools", nil, http.StatusUnauthorized},
		{"x-api-key", "k1", "/api/v1/tools", map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"bearer", "k1", "/api/v1/tools", map[string]string{"Authorization": "Bearer k1"}, http.StatusOK},
		{"wrong key", "k1", "/api/v1/tools", map[string]string{"X-API-Key": "k2"}, http.StatusUnauthorized},
		{"basic scheme ignored", "k1", "/api/v1/tools", map[string]string{"Authorization": "Basic k1"}, http.StatusUnauthorized},
		{"health is public", "k1", "/health", nil, http.StatusOK},
		{"ws token", "k1", "/ws?token=k1", nil, http.StatusOK},
		{"token only on ws", "k1", "/api/v1/tools?token=k1", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			APIKey(tt.key)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
