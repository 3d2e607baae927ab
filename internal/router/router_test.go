package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-relayer/internal/config"
	"go-relayer/internal/handlers"
	"go-relayer/internal/models"
	"go-relayer/internal/repository"
	"go-relayer/internal/services"
	"go-relayer/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "0x1111111111111111111111111111111111111111"
	testReceiver = "0x2222222222222222222222222222222222222222"
	testSig      = "0x" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" +
		"1b"
)

var testVault = common.HexToAddress("0x9999999999999999999999999999999999999999")

type testServer struct {
	chain  *testutil.Chain
	repo   *repository.MemoryPendingTransactionRepository
	admin  *handlers.AdminAuthHandler
	engine *gin.Engine
}

func newTestServer(t *testing.T, chain *testutil.Chain, maxPerWindow int, confirmTimeout time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()

	relayerCfg := config.RelayerConfig{
		Network: "localnet",
		GasLimits: config.GasLimitConfig{
			Deposit:  300_000,
			Withdraw: 350_000,
			Mint:     310_000,
			Redeem:   360_000,
		},
	}
	cfg := &config.Config{
		Relayer: relayerCfg,
		Admin: config.AdminConfig{
			Username:   "ops",
			Password:   "correct horse",
			TOTPSecret: "JBSWY3DPEHPK3PXP",
			JWTSecret:  "0123456789abcdef0123456789abcdef",
			TokenTTL:   60,
		},
	}

	signer, err := services.NewPrivateKeySigner(testutil.TestOperatorKey, chain.ID)
	require.NoError(t, err)
	txService, err := services.NewBlockchainTransactionService(chain, chain.ID, relayerCfg)
	require.NoError(t, err)
	txService.SetReceiptPollInterval(5 * time.Millisecond)

	repo := repository.NewMemoryPendingTransactionRepository()
	queue := services.NewTransactionQueueService(chain, txService, signer, repo, services.QueueConfig{
		BroadcastTimeout: 2 * time.Second,
		CheckInterval:    time.Hour,
	})
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	limiter := services.NewMemoryRateLimiter(maxPerWindow, time.Minute)
	t.Cleanup(limiter.Stop)

	relay := services.NewRelayService(services.NewVaultEncoder(testVault, relayerCfg), limiter, queue, txService, nil, confirmTimeout)
	admin := handlers.NewAdminAuthHandler(cfg.Admin, logger)

	engine := SetupRouter(cfg, logger, Handlers{
		Relay:       handlers.NewRelayHandler(relay, logger),
		Nonce:       handlers.NewNonceHandler(services.NewNonceService(chain, testVault), logger),
		Health:      handlers.NewHealthHandler(services.NewStatusService(chain, queue, testVault, "localnet", "http://127.0.0.1:8545", true)),
		AdminAuth:   admin,
		Submissions: handlers.NewSubmissionsHandler(repo, queue, logger),
	})
	return &testServer{chain: chain, repo: repo, admin: admin, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, remoteAddr, token string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func depositBody(nonce string) []byte {
	return []byte(`{"user":"` + testUser + `","assets":"1000000","receiver":"` + testReceiver + `","nonce":"` + nonce + `","signature":"` + testSig + `"}`)
}

func TestRelayEndpointConfirmed(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	s := newTestServer(t, chain, 10, time.Second)

	w, body := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("0"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, true, body["success"])
	require.Equal(t, chain.SentTransactions()[0].Hash().Hex(), body["transactionHash"])
	require.Equal(t, "52345", body["gasUsed"])
	require.Equal(t, float64(101), body["blockNumber"])
}

func TestRelayEndpointValidation(t *testing.T) {
	s := newTestServer(t, testutil.NewChain(), 10, time.Second)

	w, body := s.do(t, http.MethodPost, "/relay/withdraw", "", "", depositBody("0"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", body["code"])
	require.Equal(t, "owner", body["field"])
	require.Empty(t, s.chain.SentTransactions())

	w, body = s.do(t, http.MethodPost, "/relay/deposit", "", "", []byte(`not json`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, false, body["success"])
}

func TestRelayEndpointRejectsBeforeTouchingLedger(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	s := newTestServer(t, chain, 10, time.Second)

	badUser := []byte(`{"user":"0x1234","assets":"1000000","receiver":"` + testReceiver + `","nonce":"0","signature":"` + testSig + `"}`)
	w, body := s.do(t, http.MethodPost, "/relay/deposit", "", "", badUser)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", body["code"])
	require.Equal(t, "user", body["field"])

	badReceiver := []byte(`{"user":"` + testUser + `","shares":"5","receiver":"0xZZ22222222222222222222222222222222222222","owner":"` + testUser + `","nonce":"0","signature":"` + testSig + `"}`)
	w, body = s.do(t, http.MethodPost, "/relay/redeem", "", "", badReceiver)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "receiver", body["field"])

	oversized := []byte(`{"user":"` + testUser + `","pad":"` + strings.Repeat("a", handlers.MaxRelayBodyBytes) + `"}`)
	w, body = s.do(t, http.MethodPost, "/relay/deposit", "", "", oversized)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "body", body["field"])

	chain.Set(func(c *testutil.Chain) {
		require.Zero(t, c.PendingCalls)
		require.Empty(t, c.Sent)
	})
}

func TestRelayEndpointRateLimited(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	s := newTestServer(t, chain, 1, time.Second)

	w, _ := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("0"))
	require.Equal(t, http.StatusOK, w.Code)

	w, body := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("1"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", body["code"])
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Len(t, chain.SentTransactions(), 1)

	// a different client has its own window
	w, _ = s.do(t, http.MethodPost, "/relay/deposit", "198.51.100.20:4000", "", depositBody("1"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRelayEndpointReverted(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	chain.RevertMined = true
	chain.CallErr = testutil.RevertError("Vault: invalid signature")
	s := newTestServer(t, chain, 10, time.Second)

	w, body := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("0"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "EXECUTION_REVERTED", body["code"])
	require.Equal(t, "Vault: invalid signature", body["error"])
	require.Equal(t, chain.SentTransactions()[0].Hash().Hex(), body["transactionHash"])
}

func TestRelayEndpointConfirmationTimeout(t *testing.T) {
	chain := testutil.NewChain()
	s := newTestServer(t, chain, 10, 50*time.Millisecond)

	w, body := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("0"))
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Equal(t, "SUBMISSION_TIMEOUT", body["code"])
	require.Equal(t, chain.SentTransactions()[0].Hash().Hex(), body["transactionHash"])
	require.Equal(t, false, body["retrySafe"])
}

func TestNonceEndpoint(t *testing.T) {
	chain := testutil.NewChain()
	chain.CallResult = common.LeftPadBytes(big.NewInt(7).Bytes(), 32)
	s := newTestServer(t, chain, 10, time.Second)

	w, body := s.do(t, http.MethodGet, "/nonce/"+testUser, "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "7", body["nonce"])

	w, body = s.do(t, http.MethodGet, "/nonce/0x1234", "", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "userAddress", body["field"])

	chain.Set(func(c *testutil.Chain) { c.CallErr = errors.New("dial tcp: connection refused") })
	w, body = s.do(t, http.MethodGet, "/nonce/"+testUser, "", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "UPSTREAM_UNAVAILABLE", body["code"])
}

func TestHealthAndPing(t *testing.T) {
	chain := testutil.NewChain()
	s := newTestServer(t, chain, 10, time.Second)

	w, body := s.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, testVault.Hex(), body["vault"])
	require.Equal(t, "localnet", body["network"])

	chain.Set(func(c *testutil.Chain) { c.BlockErr = errors.New("dial tcp: connection refused") })
	w, _ = s.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body = s.do(t, http.MethodGet, "/ping", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "pong", body["message"])

	w, body = s.do(t, http.MethodGet, "/relay/deposit", "", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", body["code"])
}

func TestAdminRoutes(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	s := newTestServer(t, chain, 10, time.Second)
	const local = "127.0.0.1:40000"

	w, _ := s.do(t, http.MethodPost, "/relay/deposit", "", "", depositBody("0"))
	require.Equal(t, http.StatusOK, w.Code)

	token, err := s.admin.GenerateToken("ops")
	require.NoError(t, err)

	w, body := s.do(t, http.MethodGet, "/admin/submissions", "203.0.113.9:40000", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "IP_NOT_ALLOWED", body["code"])

	w, body = s.do(t, http.MethodGet, "/admin/submissions", local, "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "MISSING_AUTH_HEADER", body["code"])

	w, body = s.do(t, http.MethodGet, "/admin/submissions?status=confirmed", local, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["total"])
	records := body["data"].([]interface{})
	require.Len(t, records, 1)
	id := records[0].(map[string]interface{})["id"].(string)

	w, body = s.do(t, http.MethodGet, "/admin/submissions/"+id, local, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	record := body["data"].(map[string]interface{})
	require.Equal(t, string(models.PendingTransactionStatusConfirmed), record["status"])
	_, leaksRaw := record["RawTx"]
	require.False(t, leaksRaw)

	w, body = s.do(t, http.MethodGet, "/admin/submissions/does-not-exist", local, token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", body["code"])

	w, body = s.do(t, http.MethodPost, "/admin/recover", local, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := body["data"].(map[string]interface{})
	require.Equal(t, float64(0), summary["checked"])
}
