package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		origin     string
		wantOrigin string
		wantCode   int
	}{
		{"allow all", CORSConfig{AllowAllOrigins: true}, http.MethodGet, "https://a.example", "*", http.StatusOK},
		{"listed origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, http.MethodGet, "https://A.example", "https://A.example", http.StatusOK},
		{"unlisted origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, http.MethodGet, "https://b.example", "", http.StatusOK},
		{"preflight", CORSConfig{AllowAllOrigins: true}, http.MethodOptions, "https://a.example", "*", http.StatusNoContent},
		{"unlisted preflight falls through", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, http.MethodOptions, "https://b.example", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.cfg))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}
