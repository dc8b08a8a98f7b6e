package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		wantCreds   string
		wantHeaders string
	}{
		{"explicit origin", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000", "true", "Authorization, Content-Type, X-Request-ID"},
		{"wildcard has no credentials", []string{"*"}, "http://evil.test", "http://evil.test", "", "Authorization, Content-Type, X-Request-ID"},
		{"unknown origin", []string{"http://localhost:3000"}, "http://evil.test", "", "", ""},
		{"no origin", []string{"*"}, "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(okHandler()).ServeHTTP(w, req)

			assert.Equal(t, http.StatusTeapot, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, tt.wantHeaders, w.Header().Get("Access-Control-Allow-Headers"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	CORS([]string{"http://localhost:3000"})(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "preflight never reaches the handler")
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/skills", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/skills", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}
