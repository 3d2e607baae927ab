package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-relayer/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&types.ValidationError{Field: "user", Reason: "required"}, http.StatusBadRequest},
		{&types.RateLimitedError{RetryAfter: time.Second}, http.StatusTooManyRequests},
		{&types.UpstreamUnavailableError{Op: "broadcast", Err: errors.New("eof")}, http.StatusServiceUnavailable},
		{&types.ExecutionRevertedError{Reason: "Vault: bad signature"}, http.StatusUnprocessableEntity},
		{&types.SubmissionTimeoutError{TxHash: "0xabc"}, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", &types.ValidationError{Field: "nonce"}), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, HTTPStatusForError(tc.err), tc.err.Error())
	}
}

func renderError(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/relay/deposit", nil)

	respondWithError(c, logrus.New(), err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	return w, body
}

func TestRespondWithErrorRetryAfter(t *testing.T) {
	w, body := renderError(t, &types.RateLimitedError{RetryAfter: 1500 * time.Millisecond})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "2", w.Header().Get("Retry-After"))
	require.Equal(t, float64(1500), body["retryAfterMs"])
	require.Equal(t, types.CodeRateLimited, body["code"])

	// never advertise zero seconds
	w, _ = renderError(t, &types.RateLimitedError{RetryAfter: 20 * time.Millisecond})
	require.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRespondWithErrorDetails(t *testing.T) {
	_, body := renderError(t, &types.ValidationError{Field: "receiver", Reason: "must be a 20-byte hex address"})
	require.Equal(t, "receiver", body["field"])

	_, body = renderError(t, &types.ExecutionRevertedError{TxHash: "0xfeed", Reason: "Vault: expired"})
	require.Equal(t, "0xfeed", body["transactionHash"])
	require.Equal(t, "Vault: expired", body["error"])

	w, body := renderError(t, &types.SubmissionTimeoutError{TxHash: "0xbeef", Err: errors.New("context deadline exceeded")})
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Equal(t, "0xbeef", body["transactionHash"])
	require.Equal(t, false, body["retrySafe"])

	_, body = renderError(t, &types.SubmissionTimeoutError{})
	_, hasHash := body["transactionHash"]
	require.False(t, hasHash)
	require.Equal(t, "submission timed out before broadcast", body["error"])
}
