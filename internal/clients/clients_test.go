package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go-relayer/internal/config"
	"go-relayer/internal/types"

	"github.com/stretchr/testify/require"
)

func TestRelayEventSubject(t *testing.T) {
	event := &types.RelayEvent{Operation: types.OperationRedeem, Outcome: types.OutcomeReverted}
	require.Equal(t, "relayer.redeem.reverted", RelayEventSubject("relayer", event))

	var p EventPublisher = NoopPublisher{}
	require.NoError(t, p.PublishRelayEvent(event))
	p.Close()
}

func TestKMSHealthCheck(t *testing.T) {
	var status atomic.Value
	status.Store("healthy")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/health", r.URL.Path)
		require.Equal(t, "Bearer kms-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"` + status.Load().(string) + `"}`))
	}))
	defer srv.Close()

	client := NewKMSClient(config.KMSConfig{ServiceURL: srv.URL, AuthToken: "kms-token", Timeout: 2})
	require.NoError(t, client.HealthCheck(context.Background()))

	status.Store("degraded")
	err := client.HealthCheck(context.Background())
	require.ErrorContains(t, err, "degraded")
}

func TestKMSGetKeyByAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/keys" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"count":2,"keys":[` +
			`{"key_alias":"operator","chain_id":1,"public_address":"0xaaa"},` +
			`{"key_alias":"operator","chain_id":1337,"public_address":"0xbbb"}]}`))
	}))
	defer srv.Close()

	client := NewKMSClient(config.KMSConfig{ServiceURL: srv.URL})

	key, err := client.GetKeyByAlias(context.Background(), "operator", 1337)
	require.NoError(t, err)
	require.Equal(t, "0xbbb", key.PublicAddress)

	_, err = client.GetKeyByAlias(context.Background(), "operator", 10)
	require.ErrorContains(t, err, "not found")

	_, err = client.SignWithKMS(context.Background(), "operator", "k1", "0x00", 1337)
	require.ErrorContains(t, err, "status=404")
}
