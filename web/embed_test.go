package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPAHandler(t *testing.T) {
	h, err := SPAHandler()
	require.NoError(t, err)

	tests := []struct {
		path   string
		status int
		body   string
		cache  string
	}{
		{"/", http.StatusOK, "Arogya", "no-cache"},
		{"/chat/some-session", http.StatusOK, "Arogya", "no-cache"},
		{"/app.js", http.StatusOK, "/api/chat", "public, max-age=3600"},
		{"/api/unknown", http.StatusNotFound, "", ""},
		{"/ws/unknown", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
			if tt.cache != "" {
				assert.Equal(t, tt.cache, w.Header().Get("Cache-Control"))
			}
		})
	}
}
