package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"go-relayer/internal/models"
	"go-relayer/internal/testutil"
	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*types.RelayEvent
}

func (p *capturePublisher) PublishRelayEvent(event *types.RelayEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *event
	p.events = append(p.events, &copied)
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) last(t *testing.T) *types.RelayEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

type relayFixture struct {
	*queueFixture
	limiter   *MemoryRateLimiter
	publisher *capturePublisher
	relay     *RelayService
}

func newRelayFixture(t *testing.T, chain *testutil.Chain, maxPerWindow int, confirmTimeout time.Duration) *relayFixture {
	t.Helper()
	qf := newQueueFixture(t, chain)
	qf.queue.Start(context.Background())

	limiter := NewMemoryRateLimiter(maxPerWindow, time.Minute)
	publisher := &capturePublisher{}
	return &relayFixture{
		queueFixture: qf,
		limiter:      limiter,
		publisher:    publisher,
		relay:        NewRelayService(qf.encoder, limiter, qf.queue, qf.txService, publisher, confirmTimeout),
	}
}

func depositBody(nonce string) []byte {
	return []byte(`{"user":"` + testUser + `","assets":"1000000","receiver":"` + testReceiver + `","nonce":"` + nonce + `","signature":"` + testSig + `"}`)
}

func TestRelayConfirmed(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	f := newRelayFixture(t, chain, 10, time.Second)

	result, err := f.relay.Relay(context.Background(), types.OperationDeposit, "10.0.0.1", depositBody("0"))
	require.NoError(t, err)

	sent := chain.SentTransactions()
	require.Len(t, sent, 1)
	require.Equal(t, sent[0].Hash().Hex(), result.TransactionHash)
	require.Equal(t, uint64(testutil.MinedGasUsed), result.GasUsed)
	require.Equal(t, uint64(101), result.BlockNumber)

	// call data is exactly the encoded vault call
	req, err := ValidateRelayRequest(types.OperationDeposit, depositBody("0"))
	require.NoError(t, err)
	expected, err := EncodeCallData(req)
	require.NoError(t, err)
	require.Equal(t, expected, sent[0].Data())

	event := f.publisher.last(t)
	require.Equal(t, types.OutcomeConfirmed, event.Outcome)
	require.Equal(t, result.TransactionHash, event.TransactionHash)
	require.Equal(t, f.signer.Address().Hex(), event.Operator)
	require.Equal(t, common.HexToAddress(testUser).Hex(), event.User)
	require.False(t, event.Timestamp.IsZero())

	confirmed, _, err := f.repo.List(context.Background(), models.PendingTransactionStatusConfirmed, 1, 10)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	require.Equal(t, uint64(101), *confirmed[0].BlockNumber)
}

func TestRelayRevertedOnChain(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	chain.RevertMined = true
	chain.CallErr = testutil.RevertError("Vault: nonce already used")
	f := newRelayFixture(t, chain, 10, time.Second)

	_, err := f.relay.Relay(context.Background(), types.OperationDeposit, "10.0.0.1", depositBody("0"))
	var revertErr *types.ExecutionRevertedError
	require.True(t, errors.As(err, &revertErr))
	require.Equal(t, "Vault: nonce already used", revertErr.Reason)
	require.Equal(t, chain.SentTransactions()[0].Hash().Hex(), revertErr.TxHash)
	require.Equal(t, types.CodeExecutionReverted, types.ErrorCode(err))

	reverted, _, err := f.repo.List(context.Background(), models.PendingTransactionStatusReverted, 1, 10)
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	require.Equal(t, "Vault: nonce already used", reverted[0].LastError)

	require.Equal(t, types.OutcomeReverted, f.publisher.last(t).Outcome)
}

func TestRelayConfirmationTimeout(t *testing.T) {
	chain := testutil.NewChain()
	f := newRelayFixture(t, chain, 10, 50*time.Millisecond)

	_, err := f.relay.Relay(context.Background(), types.OperationDeposit, "10.0.0.1", depositBody("0"))
	var timeoutErr *types.SubmissionTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, chain.SentTransactions()[0].Hash().Hex(), timeoutErr.TxHash)
	require.Equal(t, types.CodeSubmissionTimeout, types.ErrorCode(err))

	unknown, _, err := f.repo.List(context.Background(), models.PendingTransactionStatusUnknown, 1, 10)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	require.Equal(t, types.OutcomeTimeout, f.publisher.last(t).Outcome)
}

func TestRelayRateLimitAfterValidation(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	f := newRelayFixture(t, chain, 1, time.Second)
	ctx := context.Background()

	// malformed requests do not use up the caller's quota
	_, err := f.relay.Relay(ctx, types.OperationDeposit, "10.0.0.1", []byte(`{"user":"nope"}`))
	require.Equal(t, types.CodeValidation, types.ErrorCode(err))

	_, err = f.relay.Relay(ctx, types.OperationDeposit, "10.0.0.1", depositBody("0"))
	require.NoError(t, err)

	_, err = f.relay.Relay(ctx, types.OperationDeposit, "10.0.0.1", depositBody("1"))
	var rlErr *types.RateLimitedError
	require.True(t, errors.As(err, &rlErr))
	require.Greater(t, rlErr.RetryAfter, time.Duration(0))

	// another caller is unaffected
	_, err = f.relay.Relay(ctx, types.OperationDeposit, "10.0.0.2", depositBody("1"))
	require.NoError(t, err)

	require.Len(t, chain.SentTransactions(), 2)
}

func TestRelayConcurrentRequestsUseDistinctOperatorNonces(t *testing.T) {
	chain := testutil.NewChain()
	chain.AutoMine = true
	f := newRelayFixture(t, chain, 100, time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.relay.Relay(context.Background(), types.OperationDeposit, "10.0.0.1", depositBody(big.NewInt(int64(i)).String()))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]bool)
	for _, tx := range chain.SentTransactions() {
		require.False(t, seen[tx.Nonce()], "nonce %d used twice", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	require.Len(t, seen, 10)
}
