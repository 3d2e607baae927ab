package services

import (
	"context"
	"errors"
	"log"
	"time"

	"go-relayer/internal/clients"
	"go-relayer/internal/metrics"
	"go-relayer/internal/types"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// RelayService runs a relay request through validation, rate limiting, encoding,
// serialized submission and confirmation
type RelayService struct {
	encoder        *VaultEncoder
	limiter        RateLimiter
	queue          *TransactionQueueService
	txService      *BlockchainTransactionService
	publisher      clients.EventPublisher
	confirmTimeout time.Duration
}

// NewRelayService wires the relay pipeline
func NewRelayService(
	encoder *VaultEncoder,
	limiter RateLimiter,
	queue *TransactionQueueService,
	txService *BlockchainTransactionService,
	publisher clients.EventPublisher,
	confirmTimeout time.Duration,
) *RelayService {
	if publisher == nil {
		publisher = clients.NoopPublisher{}
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &RelayService{
		encoder:        encoder,
		limiter:        limiter,
		queue:          queue,
		txService:      txService,
		publisher:      publisher,
		confirmTimeout: confirmTimeout,
	}
}

// Relay validates body as an op request from callerKey and relays it on chain.
// Malformed requests are rejected before they count against the caller's rate limit.
func (s *RelayService) Relay(ctx context.Context, op types.Operation, callerKey string, body []byte) (*types.RelayResult, error) {
	start := time.Now()

	req, err := ValidateRelayRequest(op, body)
	if err != nil {
		metrics.RelayRequestsTotal.WithLabelValues(string(op), types.OutcomeInvalid).Inc()
		return nil, err
	}

	if err := CheckRateLimit(ctx, s.limiter, callerKey); err != nil {
		outcome := types.OutcomeRateLimited
		var upstreamErr *types.UpstreamUnavailableError
		if errors.As(err, &upstreamErr) {
			outcome = types.OutcomeRejected
		}
		metrics.RelayRequestsTotal.WithLabelValues(string(op), outcome).Inc()
		return nil, err
	}

	job, err := s.encoder.Encode(req)
	if err != nil {
		metrics.RelayRequestsTotal.WithLabelValues(string(op), types.OutcomeInvalid).Inc()
		return nil, err
	}

	result, err := s.submitAndWait(ctx, job)
	metrics.RelayDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	return result, err
}

func (s *RelayService) submitAndWait(ctx context.Context, job *SubmissionJob) (*types.RelayResult, error) {
	event := &types.RelayEvent{
		JobID:     job.ID,
		Operation: job.Operation,
		User:      job.User.Hex(),
		Operator:  s.queue.Operator().Hex(),
		Vault:     job.Target.Hex(),
	}

	sub, err := s.queue.Submit(ctx, job)
	if err != nil {
		var timeoutErr *types.SubmissionTimeoutError
		var revertErr *types.ExecutionRevertedError
		switch {
		case errors.As(err, &timeoutErr):
			event.Outcome = types.OutcomeTimeout
			event.TransactionHash = timeoutErr.TxHash
		case errors.As(err, &revertErr):
			event.Outcome = types.OutcomeReverted
		default:
			event.Outcome = types.OutcomeRejected
		}
		event.Error = err.Error()
		s.finish(event)
		return nil, err
	}

	txHash := sub.Tx.Hash()
	event.TransactionHash = txHash.Hex()

	// the wait is bounded by the caller's context too: a disconnect stops the wait, not the transaction
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	receipt, err := s.txService.WaitForReceipt(waitCtx, txHash)
	if err != nil {
		s.queue.MarkUnknown(sub, err)
		event.Outcome = types.OutcomeTimeout
		event.Error = err.Error()
		s.finish(event)
		return nil, &types.SubmissionTimeoutError{TxHash: txHash.Hex(), Err: err}
	}

	event.BlockNumber = receipt.BlockNumber.Uint64()
	event.GasUsed = receipt.GasUsed

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		reasonCtx, cancelReason := context.WithTimeout(context.Background(), 10*time.Second)
		reason := s.txService.RevertReason(reasonCtx, sub.Operator, sub.Tx, receipt.BlockNumber)
		cancelReason()

		s.queue.RecordReceipt(sub, receipt, reason)
		revertErr := &types.ExecutionRevertedError{TxHash: txHash.Hex(), Reason: reason}
		event.Outcome = types.OutcomeReverted
		event.Error = revertErr.Error()
		s.finish(event)
		return nil, revertErr
	}

	s.queue.RecordReceipt(sub, receipt, "")
	event.Outcome = types.OutcomeConfirmed
	s.finish(event)

	return &types.RelayResult{
		TransactionHash: txHash.Hex(),
		GasUsed:         receipt.GasUsed,
		BlockNumber:     receipt.BlockNumber.Uint64(),
	}, nil
}

func (s *RelayService) finish(event *types.RelayEvent) {
	event.Timestamp = time.Now().UTC()
	metrics.RelayRequestsTotal.WithLabelValues(string(event.Operation), event.Outcome).Inc()
	if err := s.publisher.PublishRelayEvent(event); err != nil {
		log.Printf("⚠️ Failed to publish relay event for job %s: %v", event.JobID, err)
	}
}
