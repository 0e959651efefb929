package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func adminProbe(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/ping", AdminAuthMiddleware(token), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAdminAuthMiddleware(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"valid token", "hunter2", "Bearer hunter2", http.StatusOK},
		{"wrong token", "hunter2", "Bearer wrong", http.StatusUnauthorized},
		{"missing header", "hunter2", "", http.StatusUnauthorized},
		{"not a bearer scheme", "hunter2", "Basic hunter2", http.StatusUnauthorized},
		{"unconfigured token locks the routes", "", "Bearer ", http.StatusUnauthorized},
		{"unconfigured token rejects empty presented", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := adminProbe(tc.configured)
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
