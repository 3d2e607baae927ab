package types

import "time"

// Relay outcomes, also used as metric labels and event subjects
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeReverted    = "reverted"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
)

// RelayEvent is published once per relay request that reached the submitter
type RelayEvent struct {
	JobID           string    `json:"jobId"`
	Operation       Operation `json:"operation"`
	Outcome         string    `json:"outcome"`
	User            string    `json:"user"`
	Operator        string    `json:"operator"`
	Vault           string    `json:"vault"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	GasUsed         uint64    `json:"gasUsed,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
