package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-relayer/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func testAdminConfig() config.AdminConfig {
	return config.AdminConfig{
		Username:   "ops",
		Password:   "correct horse",
		TOTPSecret: testTOTPSecret,
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		TokenTTL:   60,
	}
}

func TestAdminTokenRoundTrip(t *testing.T) {
	h := NewAdminAuthHandler(testAdminConfig(), logrus.New())

	token, err := h.GenerateToken("ops")
	require.NoError(t, err)

	claims, err := h.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Username)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, adminTokenIssuer, claims.Issuer)

	other := testAdminConfig()
	other.JWTSecret = "a-different-secret-of-some-length"
	_, err = NewAdminAuthHandler(other, logrus.New()).ValidateToken(token)
	require.Error(t, err)
}

func TestAdminTokenRejectsForeignIssuerAndExpiry(t *testing.T) {
	cfg := testAdminConfig()
	h := NewAdminAuthHandler(cfg, logrus.New())

	sign := func(claims AdminJWTClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
		require.NoError(t, err)
		return s
	}

	foreign := sign(AdminJWTClaims{
		Username: "ops",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err := h.ValidateToken(foreign)
	require.Error(t, err)

	expired := sign(AdminJWTClaims{
		Username: "ops",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminTokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err = h.ValidateToken(expired)
	require.Error(t, err)

	_, err = NewAdminAuthHandler(config.AdminConfig{}, logrus.New()).ValidateToken(foreign)
	require.Error(t, err)
}

func postLogin(t *testing.T, h *AdminAuthHandler, body interface{}) (*httptest.ResponseRecorder, AdminLoginResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin/login", h.AdminLoginHandler)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp AdminLoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestAdminLogin(t *testing.T) {
	h := NewAdminAuthHandler(testAdminConfig(), logrus.New())
	code, err := totp.GenerateCode(testTOTPSecret, time.Now())
	require.NoError(t, err)

	w, resp := postLogin(t, h, AdminLoginRequest{Username: "ops", Password: "correct horse", TOTPCode: code})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	claims, err := h.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Username)

	w, resp = postLogin(t, h, AdminLoginRequest{Username: "ops", Password: "wrong", TOTPCode: code})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid credentials", resp.Message)

	w, resp = postLogin(t, h, AdminLoginRequest{Username: "ops", Password: "correct horse", TOTPCode: "000000x"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid TOTP code", resp.Message)

	w, _ = postLogin(t, h, map[string]string{"username": "ops"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminLoginNotConfigured(t *testing.T) {
	h := NewAdminAuthHandler(config.AdminConfig{Username: "ops"}, logrus.New())
	require.False(t, h.Configured())

	w, resp := postLogin(t, h, AdminLoginRequest{Username: "ops", Password: "x", TOTPCode: "123456"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.False(t, resp.Success)
}
