package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-relayer/internal/metrics"
	"go-relayer/internal/models"
	"go-relayer/internal/repository"
	"go-relayer/internal/types"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// ErrQueueStopped is returned for jobs submitted after Stop
var ErrQueueStopped = errors.New("submission queue stopped")

// QueueConfig tunes the submission queue. Zero values take defaults.
type QueueConfig struct {
	QueueSize        int
	BroadcastTimeout time.Duration // bound on one sign+broadcast step
	CheckInterval    time.Duration // periodic reconciliation interval
	StaleAfter       time.Duration // in-flight records older than this are reconciled
	RecoveryWorkers  int
}

// Submission is a transaction the node accepted into its pool
type Submission struct {
	JobID    string
	RecordID string
	Operator common.Address
	Tx       *ethtypes.Transaction
}

// RecoverySummary counts what one reconciliation pass did
type RecoverySummary struct {
	Checked     int `json:"checked"`
	Confirmed   int `json:"confirmed"`
	Reverted    int `json:"reverted"`
	Dropped     int `json:"dropped"`
	Rebroadcast int `json:"rebroadcast"`
	Failed      int `json:"failed"`
}

type submitOutcome struct {
	submission *Submission
	err        error
}

type queuedJob struct {
	ctx  context.Context
	job  *SubmissionJob
	done chan submitOutcome
}

// TransactionQueueService 交易队列服务
// 单一 worker 串行完成 operator 账户的签名与广播，保证 nonce 连续且不重复。
// 等待回执不在队列内进行。
type TransactionQueueService struct {
	chain     ChainClient
	txService *BlockchainTransactionService
	signer    *OperatorSigner
	repo      repository.PendingTransactionRepository

	jobs             chan *queuedJob
	broadcastTimeout time.Duration
	checkInterval    time.Duration
	staleAfter       time.Duration
	pool             pond.Pool

	// 仅 worker goroutine 读写
	nextNonce   uint64
	nonceSynced bool

	reportedNonce atomic.Int64 // -1 until the first sync

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewTransactionQueueService 创建交易队列服务
func NewTransactionQueueService(
	chain ChainClient,
	txService *BlockchainTransactionService,
	signer *OperatorSigner,
	repo repository.PendingTransactionRepository,
	cfg QueueConfig,
) *TransactionQueueService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 15 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.RecoveryWorkers <= 0 {
		cfg.RecoveryWorkers = 8
	}

	s := &TransactionQueueService{
		chain:            chain,
		txService:        txService,
		signer:           signer,
		repo:             repo,
		jobs:             make(chan *queuedJob, cfg.QueueSize),
		broadcastTimeout: cfg.BroadcastTimeout,
		checkInterval:    cfg.CheckInterval,
		staleAfter:       cfg.StaleAfter,
		pool:             pond.NewPool(cfg.RecoveryWorkers),
		stopChan:         make(chan struct{}),
	}
	s.reportedNonce.Store(-1)
	return s
}

// Start 启动队列服务：先恢复未完成的交易，再启动 worker 与定期检查
func (s *TransactionQueueService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		log.Printf("🚀 [Queue] Starting submission queue for operator %s (%s signing)", s.signer.Address().Hex(), s.signer.StrategyName())

		summary, err := s.RecoverPendingTransactions(ctx)
		if err != nil {
			log.Printf("❌ [Queue] Failed to recover pending transactions: %v", err)
		} else if summary.Checked > 0 {
			log.Printf("✅ [Queue] Recovery done: %+v", *summary)
		}

		s.wg.Add(2)
		go s.run()
		go s.periodicCheck()
	})
}

// Stop 停止队列服务。排队中尚未处理的任务返回 ErrQueueStopped。
func (s *TransactionQueueService) Stop() {
	s.stopOnce.Do(func() {
		log.Printf("🛑 [Queue] Stopping submission queue...")
		close(s.stopChan)
		s.wg.Wait()
		s.pool.StopAndWait()
		log.Printf("✅ [Queue] Submission queue stopped")
	})
}

// Operator returns the account paying for relayed transactions
func (s *TransactionQueueService) Operator() common.Address {
	return s.signer.Address()
}

// QueueDepth returns the number of jobs waiting for the signing slot
func (s *TransactionQueueService) QueueDepth() int {
	return len(s.jobs)
}

// NextOperatorNonce returns the nonce the next job will use, if it has been synced
func (s *TransactionQueueService) NextOperatorNonce() (uint64, bool) {
	n := s.reportedNonce.Load()
	if n < 0 {
		return 0, false
	}
	return uint64(n), true
}

// Submit enqueues job and blocks until it is signed and broadcast, or rejected.
// If ctx ends after the job was dequeued the transaction is still sent; the caller
// then gets a SubmissionTimeoutError since the outcome is unknown to it.
func (s *TransactionQueueService) Submit(ctx context.Context, job *SubmissionJob) (*Submission, error) {
	select {
	case <-s.stopChan:
		return nil, &types.UpstreamUnavailableError{Op: "submission queue", Err: ErrQueueStopped}
	default:
	}

	qj := &queuedJob{ctx: ctx, job: job, done: make(chan submitOutcome, 1)}
	select {
	case s.jobs <- qj:
		metrics.SubmissionQueueDepth.Inc()
	case <-ctx.Done():
		return nil, &types.UpstreamUnavailableError{Op: "submission queue", Err: ctx.Err()}
	case <-s.stopChan:
		return nil, &types.UpstreamUnavailableError{Op: "submission queue", Err: ErrQueueStopped}
	}

	select {
	case out := <-qj.done:
		return out.submission, out.err
	case <-ctx.Done():
		return nil, &types.SubmissionTimeoutError{Err: ctx.Err()}
	}
}

func (s *TransactionQueueService) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			s.drain()
			return
		case qj := <-s.jobs:
			metrics.SubmissionQueueDepth.Dec()
			qj.done <- s.process(qj)
		}
	}
}

func (s *TransactionQueueService) drain() {
	for {
		select {
		case qj := <-s.jobs:
			metrics.SubmissionQueueDepth.Dec()
			qj.done <- submitOutcome{err: &types.UpstreamUnavailableError{Op: "submission queue", Err: ErrQueueStopped}}
		default:
			return
		}
	}
}

func (s *TransactionQueueService) process(qj *queuedJob) submitOutcome {
	// caller gave up before its turn: nothing signed, nothing sent
	if err := qj.ctx.Err(); err != nil {
		return submitOutcome{err: &types.UpstreamUnavailableError{Op: "submission queue", Err: err}}
	}

	start := time.Now()
	defer func() { metrics.BroadcastDuration.Observe(time.Since(start).Seconds()) }()

	// detached from the request: once dequeued the job runs to completion
	ctx, cancel := context.WithTimeout(context.Background(), s.broadcastTimeout)
	defer cancel()

	submission, retry, err := s.signAndBroadcast(ctx, qj.job)
	if retry {
		log.Printf("🔄 [Queue] Job %s: operator nonce was stale, resynced and re-signing", qj.job.ID)
		submission, _, err = s.signAndBroadcast(ctx, qj.job)
	}
	return submitOutcome{submission: submission, err: err}
}

// signAndBroadcast returns retry=true only when nothing landed and a resync may fix it
func (s *TransactionQueueService) signAndBroadcast(ctx context.Context, job *SubmissionJob) (*Submission, bool, error) {
	operator := s.signer.Address()

	if !s.nonceSynced {
		if err := s.syncNonce(ctx, operator); err != nil {
			return nil, false, err
		}
	}
	nonce := s.nextNonce

	tx, err := s.txService.BuildTransaction(ctx, job, nonce)
	if err != nil {
		return nil, false, &types.UpstreamUnavailableError{Op: "build transaction", Err: err}
	}
	signed, err := s.signer.SignTx(ctx, tx)
	if err != nil {
		return nil, false, &types.UpstreamUnavailableError{Op: "sign transaction", Err: err}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, false, &types.UpstreamUnavailableError{Op: "encode transaction", Err: err}
	}

	record := &models.PendingTransaction{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Operation: string(job.Operation),
		Status:    models.PendingTransactionStatusSigned,
		Operator:  operator.Hex(),
		ChainID:   s.txService.ChainID().Uint64(),
		Nonce:     nonce,
		TxHash:    signed.Hash().Hex(),
		RawTx:     hexutil.Encode(raw),
		Target:    job.Target.Hex(),
		User:      job.User.Hex(),
		GasLimit:  job.GasLimit,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	// 写前日志：广播前落盘，崩溃后可恢复
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, false, &types.UpstreamUnavailableError{Op: "journal write", Err: err}
	}

	sendErr := s.chain.SendTransaction(ctx, signed)
	switch classifySendError(sendErr) {
	case sendOK, sendAlreadyKnown:
		s.setNonce(nonce + 1)
		now := time.Now()
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusBroadcast, SubmittedAt: &now})
		log.Printf("✅ [Queue] Broadcast %s job=%s nonce=%d tx=%s", job.Operation, job.ID, nonce, signed.Hash().Hex())
		return &Submission{JobID: job.ID, RecordID: record.ID, Operator: operator, Tx: signed}, false, nil

	case sendNonceTooLow:
		s.nonceSynced = false
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusRejected, LastError: sendErr.Error()})
		return nil, true, &types.UpstreamUnavailableError{Op: "broadcast", Err: sendErr}

	case sendReverted:
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusRejected, LastError: sendErr.Error()})
		log.Printf("❌ [Queue] Node rejected job=%s: %v", job.ID, sendErr)
		return nil, false, &types.ExecutionRevertedError{Reason: RevertReasonFromError(sendErr)}

	case sendRejected:
		s.nonceSynced = false
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusRejected, LastError: sendErr.Error()})
		log.Printf("❌ [Queue] Node rejected job=%s: %v", job.ID, sendErr)
		return nil, false, &types.UpstreamUnavailableError{Op: "broadcast", Err: sendErr}

	default:
		// may or may not be in the pool; the record keeps its nonce and the resync re-sends it
		s.nonceSynced = false
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusUnknown, LastError: sendErr.Error()})
		log.Printf("⚠️ [Queue] Broadcast outcome unknown job=%s tx=%s: %v", job.ID, signed.Hash().Hex(), sendErr)
		return nil, false, &types.SubmissionTimeoutError{TxHash: signed.Hash().Hex(), Err: sendErr}
	}
}

// syncNonce 从节点重新同步 operator nonce。
// In-flight journal records at or above the node's pending nonce still own their nonce:
// their signed bytes are re-sent as they are and the next job starts after them.
func (s *TransactionQueueService) syncNonce(ctx context.Context, operator common.Address) error {
	pending, err := s.chain.PendingNonceAt(ctx, operator)
	if err != nil {
		return &types.UpstreamUnavailableError{Op: "operator nonce sync", Err: err}
	}
	records, err := s.repo.FindInFlight(ctx, time.Time{})
	if err != nil {
		return &types.UpstreamUnavailableError{Op: "journal read", Err: err}
	}

	next := pending
	for _, record := range records {
		if !strings.EqualFold(record.Operator, operator.Hex()) || record.Nonce < pending {
			continue
		}
		tx, err := decodeRawTransaction(record.RawTx)
		if err != nil {
			log.Printf("⚠️ [Queue] Journal record %s unreadable, nonce %d stays reserved: %v", record.ID, record.Nonce, err)
		} else if _, err := s.rebroadcast(ctx, record, tx); err != nil {
			log.Printf("⚠️ [Queue] Re-send of %s at nonce %d failed, nonce stays reserved: %v", record.TxHash, record.Nonce, err)
		}
		if record.Nonce+1 > next {
			next = record.Nonce + 1
		}
	}

	s.setNonce(next)
	log.Printf("🔢 [Queue] Operator nonce synced: node=%d next=%d", pending, next)
	return nil
}

func (s *TransactionQueueService) setNonce(n uint64) {
	s.nextNonce = n
	s.nonceSynced = true
	s.reportedNonce.Store(int64(n))
	metrics.OperatorNonce.Set(float64(n))
}

// updateRecord writes a status change on its own context; the caller's may be expired
func (s *TransactionQueueService) updateRecord(id string, update repository.StatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.UpdateStatus(ctx, id, update); err != nil {
		log.Printf("⚠️ [Queue] Failed to update journal record %s to %s: %v", id, update.Status, err)
	}
}

// RecordReceipt stores the mined outcome of a submission
func (s *TransactionQueueService) RecordReceipt(sub *Submission, receipt *ethtypes.Receipt, revertReason string) {
	now := time.Now()
	gasUsed := receipt.GasUsed
	blockNumber := receipt.BlockNumber.Uint64()
	update := repository.StatusUpdate{
		Status:      models.PendingTransactionStatusConfirmed,
		GasUsed:     &gasUsed,
		BlockNumber: &blockNumber,
		ConfirmedAt: &now,
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		update.Status = models.PendingTransactionStatusReverted
		update.LastError = revertReason
		if update.LastError == "" {
			update.LastError = "execution reverted"
		}
	}
	s.updateRecord(sub.RecordID, update)
}

// MarkUnknown records that confirmation could not be observed in time
func (s *TransactionQueueService) MarkUnknown(sub *Submission, cause error) {
	s.updateRecord(sub.RecordID, repository.StatusUpdate{Status: models.PendingTransactionStatusUnknown, LastError: cause.Error()})
}

// RecoverPendingTransactions 恢复未完成的交易（重启后调用）
// Each signed, broadcast or unknown record is reconciled against the chain.
func (s *TransactionQueueService) RecoverPendingTransactions(ctx context.Context) (*RecoverySummary, error) {
	log.Printf("🔄 [Queue] Recovering pending transactions...")
	return s.reconcile(ctx, time.Time{})
}

func (s *TransactionQueueService) reconcile(ctx context.Context, cutoff time.Time) (*RecoverySummary, error) {
	records, err := s.repo.FindInFlight(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	summary := &RecoverySummary{Checked: len(records)}
	if len(records) == 0 {
		return summary, nil
	}
	log.Printf("📋 [Queue] Found %d in-flight transactions to reconcile", len(records))

	var mu sync.Mutex
	group := s.pool.NewGroup()
	for _, record := range records {
		record := record
		group.Submit(func() {
			status, err := s.reconcileRecord(ctx, record)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				log.Printf("⚠️ [Queue] Failed to reconcile %s (tx=%s): %v", record.ID, record.TxHash, err)
				return
			}
			switch status {
			case models.PendingTransactionStatusConfirmed:
				summary.Confirmed++
			case models.PendingTransactionStatusReverted:
				summary.Reverted++
			case models.PendingTransactionStatusDropped:
				summary.Dropped++
			case models.PendingTransactionStatusBroadcast:
				summary.Rebroadcast++
			}
			metrics.RecoveredTransactions.WithLabelValues(string(status)).Inc()
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// reconcileRecord 检查交易状态：已上链则记录结果；nonce 已被占用则标记 dropped；否则重新广播原交易
func (s *TransactionQueueService) reconcileRecord(ctx context.Context, record *models.PendingTransaction) (models.PendingTransactionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := decodeRawTransaction(record.RawTx)
	if err != nil {
		return record.Status, err
	}
	operator := common.HexToAddress(record.Operator)

	receipt, err := s.chain.TransactionReceipt(ctx, tx.Hash())
	if err == nil && receipt != nil {
		reason := ""
		if receipt.Status != ethtypes.ReceiptStatusSuccessful {
			reason = s.txService.RevertReason(ctx, operator, tx, receipt.BlockNumber)
		}
		s.RecordReceipt(&Submission{RecordID: record.ID, Operator: operator, Tx: tx}, receipt, reason)
		if receipt.Status != ethtypes.ReceiptStatusSuccessful {
			log.Printf("❌ [Queue] Transaction reverted: ID=%s, TxHash=%s", record.ID, record.TxHash)
			return models.PendingTransactionStatusReverted, nil
		}
		log.Printf("✅ [Queue] Transaction confirmed: ID=%s, TxHash=%s", record.ID, record.TxHash)
		return models.PendingTransactionStatusConfirmed, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return record.Status, fmt.Errorf("receipt lookup: %w", err)
	}

	mined, err := s.chain.NonceAt(ctx, operator, nil)
	if err != nil {
		return record.Status, fmt.Errorf("operator nonce lookup: %w", err)
	}
	if mined > record.Nonce {
		s.updateRecord(record.ID, repository.StatusUpdate{
			Status:    models.PendingTransactionStatusDropped,
			LastError: fmt.Sprintf("operator nonce %d consumed by another transaction", record.Nonce),
		})
		log.Printf("🗑️ [Queue] Transaction dropped: ID=%s, nonce=%d", record.ID, record.Nonce)
		return models.PendingTransactionStatusDropped, nil
	}

	return s.rebroadcast(ctx, record, tx)
}

// rebroadcast re-sends the journaled signed bytes. Same bytes, same hash: idempotent.
func (s *TransactionQueueService) rebroadcast(ctx context.Context, record *models.PendingTransaction, tx *ethtypes.Transaction) (models.PendingTransactionStatus, error) {
	sendErr := s.chain.SendTransaction(ctx, tx)
	switch classifySendError(sendErr) {
	case sendOK, sendAlreadyKnown:
		update := repository.StatusUpdate{Status: models.PendingTransactionStatusBroadcast}
		if record.SubmittedAt == nil {
			now := time.Now()
			update.SubmittedAt = &now
		}
		s.updateRecord(record.ID, update)
		log.Printf("📡 [Queue] Rebroadcast transaction: ID=%s, TxHash=%s", record.ID, record.TxHash)
		return models.PendingTransactionStatusBroadcast, nil
	case sendNonceTooLow:
		s.updateRecord(record.ID, repository.StatusUpdate{Status: models.PendingTransactionStatusDropped, LastError: sendErr.Error()})
		return models.PendingTransactionStatusDropped, nil
	default:
		return record.Status, fmt.Errorf("rebroadcast: %w", sendErr)
	}
}

// periodicCheck 定期检查长时间未确认的交易
func (s *TransactionQueueService) periodicCheck() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.checkInterval)
			summary, err := s.reconcile(ctx, time.Now().Add(-s.staleAfter))
			cancel()
			if err != nil {
				log.Printf("⚠️ [Queue] Periodic check failed: %v", err)
			} else if summary.Checked > 0 {
				log.Printf("📋 [Queue] Periodic check: %+v", *summary)
			}
		}
	}
}

// ReconcileNow runs a full reconciliation pass on demand
func (s *TransactionQueueService) ReconcileNow(ctx context.Context) (*RecoverySummary, error) {
	return s.reconcile(ctx, time.Time{})
}

func decodeRawTransaction(raw string) (*ethtypes.Transaction, error) {
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid raw transaction encoding: %w", err)
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("invalid raw transaction: %w", err)
	}
	return tx, nil
}

// operatorBalance is exported to prometheus by the status reporter
func (s *TransactionQueueService) operatorBalance(ctx context.Context) (*big.Int, error) {
	return s.chain.BalanceAt(ctx, s.signer.Address(), nil)
}
