package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		preflight   bool
		wantOrigin  string
		wantStatus  int
		wantHandled bool
	}{
		{
			name:        "listed origin",
			allowed:     []string{"https://clinic.example.com"},
			origin:      "https://clinic.example.com",
			method:      http.MethodGet,
			wantOrigin:  "https://clinic.example.com",
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:        "configured with trailing slash",
			allowed:     []string{"https://portal.example.com/"},
			origin:      "https://portal.example.com",
			method:      http.MethodPost,
			wantOrigin:  "https://portal.example.com",
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:        "unknown origin",
			allowed:     []string{"https://clinic.example.com"},
			origin:      "https://evil.example",
			method:      http.MethodGet,
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:        "wildcard",
			allowed:     []string{"*"},
			origin:      "https://random.example",
			method:      http.MethodGet,
			wantOrigin:  "https://random.example",
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:       "preflight",
			allowed:    []string{"https://clinic.example.com"},
			origin:     "https://clinic.example.com",
			method:     http.MethodOptions,
			preflight:  true,
			wantOrigin: "https://clinic.example.com",
			wantStatus: http.StatusNoContent,
		},
		{
			name:        "no origin header",
			allowed:     []string{"*"},
			method:      http.MethodGet,
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(tt.method, "/sessions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHandled, handled)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			}
			if tt.origin != "" {
				assert.Equal(t, "Origin", rec.Header().Get("Vary"))
			}
		})
	}
}
