package models

import (
	"time"
)

// PendingTransactionStatus 提交日志中交易的状态
type PendingTransactionStatus string

const (
	PendingTransactionStatusSigned    PendingTransactionStatus = "signed"    // 已签名，尚未广播
	PendingTransactionStatusBroadcast PendingTransactionStatus = "broadcast" // 已广播，等待确认
	PendingTransactionStatusConfirmed PendingTransactionStatus = "confirmed" // 已确认且执行成功
	PendingTransactionStatusReverted  PendingTransactionStatus = "reverted"  // 已上链但合约回滚
	PendingTransactionStatusUnknown   PendingTransactionStatus = "unknown"   // 广播或确认超时，结果未知
	PendingTransactionStatusDropped   PendingTransactionStatus = "dropped"   // nonce 已被其他交易占用
	PendingTransactionStatusRejected  PendingTransactionStatus = "rejected"  // 节点明确拒绝，未广播
)

// InFlightStatuses are the statuses recovery must reconcile against the chain
var InFlightStatuses = []PendingTransactionStatus{
	PendingTransactionStatusSigned,
	PendingTransactionStatusBroadcast,
	PendingTransactionStatusUnknown,
}

// IsTerminal reports whether no further reconciliation is needed
func (s PendingTransactionStatus) IsTerminal() bool {
	switch s {
	case PendingTransactionStatusConfirmed, PendingTransactionStatusReverted,
		PendingTransactionStatusDropped, PendingTransactionStatusRejected:
		return true
	}
	return false
}

// PendingTransaction 写前日志：广播前记录 operator nonce 与已签名交易，
// 进程崩溃后可据此判断交易是否已上链
type PendingTransaction struct {
	ID        string                   `json:"id" gorm:"primaryKey"` // UUID, one per signed transaction
	JobID     string                   `json:"job_id" gorm:"index;size:36"` // relay request this transaction serves
	Operation string                   `json:"operation" gorm:"not null;size:16"`
	Status    PendingTransactionStatus `json:"status" gorm:"not null;default:signed;index"`
	Operator  string                   `json:"operator" gorm:"not null;index:idx_operator_nonce;size:42"`
	ChainID   uint64                   `json:"chain_id" gorm:"not null"`
	Nonce     uint64                   `json:"nonce" gorm:"not null;index:idx_operator_nonce"` // operator chain nonce

	// 交易信息
	TxHash      string  `json:"tx_hash" gorm:"index;size:66"`
	RawTx       string  `json:"-" gorm:"type:text"` // signed RLP, hex
	Target      string  `json:"target" gorm:"size:42"`
	User        string  `json:"user" gorm:"index;size:42"`
	GasLimit    uint64  `json:"gas_limit"`
	GasUsed     *uint64 `json:"gas_used,omitempty"`
	BlockNumber *uint64 `json:"block_number,omitempty"`

	// 错误信息
	LastError string `json:"last_error,omitempty" gorm:"type:text"`

	// 时间戳
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// TableName 指定表名
func (PendingTransaction) TableName() string {
	return "pending_transactions"
}
