package services

import (
	"context"
	"log"
	"net/url"
	"time"

	"go-relayer/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
)

// Health status values
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

const livenessTimeout = 3 * time.Second

// HealthStatus is the /health response body
type HealthStatus struct {
	Status          string  `json:"status"`
	Relayer         string  `json:"relayer"`
	Vault           string  `json:"vault"`
	Network         string  `json:"network"`
	RPCEndpoint     string  `json:"rpcEndpoint,omitempty"`
	ChainID         string  `json:"chainId,omitempty"`
	LatestBlock     uint64  `json:"latestBlock,omitempty"`
	QueueDepth      int     `json:"queueDepth"`
	OperatorNonce   *uint64 `json:"operatorNonce,omitempty"`
	OperatorBalance string  `json:"operatorBalance,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// StatusService reports operator identity, target vault and ledger liveness
type StatusService struct {
	chain         ChainClient
	queue         *TransactionQueueService
	vault         common.Address
	network       string
	rpcEndpoint   string
	livenessCheck bool
}

// NewStatusService creates the status reporter. rpcEndpoint is reported without credentials.
func NewStatusService(chain ChainClient, queue *TransactionQueueService, vault common.Address, network, rpcEndpoint string, livenessCheck bool) *StatusService {
	return &StatusService{
		chain:         chain,
		queue:         queue,
		vault:         vault,
		network:       network,
		rpcEndpoint:   redactEndpoint(rpcEndpoint),
		livenessCheck: livenessCheck,
	}
}

// Status never fails; an unreachable ledger turns the status to degraded
func (s *StatusService) Status(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:      HealthStatusOK,
		Relayer:     s.queue.Operator().Hex(),
		Vault:       s.vault.Hex(),
		Network:     s.network,
		RPCEndpoint: s.rpcEndpoint,
		QueueDepth:  s.queue.QueueDepth(),
	}
	if nonce, ok := s.queue.NextOperatorNonce(); ok {
		status.OperatorNonce = &nonce
	}
	if !s.livenessCheck {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	block, err := s.chain.BlockNumber(ctx)
	if err != nil {
		metrics.LedgerConnectionStatus.Set(0)
		status.Status = HealthStatusDegraded
		status.Error = err.Error()
		return status
	}
	metrics.LedgerConnectionStatus.Set(1)
	status.LatestBlock = block

	if chainID, err := s.chain.ChainID(ctx); err == nil {
		status.ChainID = chainID.String()
	}
	if balance, err := s.queue.operatorBalance(ctx); err == nil {
		status.OperatorBalance = balance.String()
		f, _ := balance.Float64()
		metrics.OperatorBalance.WithLabelValues(s.network, status.Relayer).Set(f)
	} else {
		log.Printf("⚠️ Failed to query operator balance: %v", err)
	}
	return status
}

func redactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
