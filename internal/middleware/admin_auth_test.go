package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-relayer/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]*handlers.AdminJWTClaims

func (s stubValidator) ValidateToken(token string) (*handlers.AdminJWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, errors.New("token is expired")
	}
	return claims, nil
}

func TestRequireAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := stubValidator{
		"good":   {Username: "ops", Role: "admin"},
		"viewer": {Username: "guest", Role: "viewer"},
	}

	r := gin.New()
	r.GET("/admin/submissions", NewAdminAuthMiddleware(logrus.New(), validator).RequireAdminAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("admin_username"))
	})

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"no header", "", http.StatusUnauthorized, "MISSING_AUTH_HEADER"},
		{"basic auth", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "INVALID_AUTH_FORMAT"},
		{"empty bearer", "Bearer  ", http.StatusUnauthorized, "EMPTY_TOKEN"},
		{"unknown token", "Bearer stale", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"wrong role", "Bearer viewer", http.StatusForbidden, "INSUFFICIENT_PERMISSIONS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/submissions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
			require.Contains(t, w.Body.String(), tc.code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/submissions", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ops", w.Body.String())
}
