package types

import (
	"errors"
	"fmt"
	"time"
)

// Error codes returned to HTTP callers alongside the error message
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeExecutionReverted   = "EXECUTION_REVERTED"
	CodeSubmissionTimeout   = "SUBMISSION_TIMEOUT"
	CodeInternal            = "INTERNAL_ERROR"
)

// ValidationError reports the first malformed or missing field of a request.
// It is raised before any chain interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RateLimitedError means the caller exceeded its quota for the current window
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// UpstreamUnavailableError means the ledger could not be reached or refused the
// transaction before it was accepted. Nothing landed on chain; retrying is safe.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable during %s: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// ExecutionRevertedError means the vault rejected the operation. The reason is the
// contract's revert string, surfaced verbatim. Never retried automatically.
type ExecutionRevertedError struct {
	TxHash string
	Reason string
}

func (e *ExecutionRevertedError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return e.Reason
}

// SubmissionTimeoutError means the transaction may or may not have landed.
// Callers must check TxHash on chain before submitting again.
type SubmissionTimeoutError struct {
	TxHash string
	Err    error
}

func (e *SubmissionTimeoutError) Error() string {
	if e.TxHash == "" {
		if e.Err == nil {
			return "submission timed out before broadcast"
		}
		return fmt.Sprintf("submission timed out before broadcast: %v", e.Err)
	}
	return fmt.Sprintf("submission outcome unknown for %s (do not retry before checking the transaction hash): %v", e.TxHash, e.Err)
}

func (e *SubmissionTimeoutError) Unwrap() error { return e.Err }

// RetrySafe is always false: the broadcast may already be on chain
func (e *SubmissionTimeoutError) RetrySafe() bool { return false }

// ErrorCode maps an error from the relay pipeline to its wire code
func ErrorCode(err error) string {
	var (
		validationErr *ValidationError
		rateLimitErr  *RateLimitedError
		upstreamErr   *UpstreamUnavailableError
		revertErr     *ExecutionRevertedError
		timeoutErr    *SubmissionTimeoutError
	)
	switch {
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.As(err, &rateLimitErr):
		return CodeRateLimited
	case errors.As(err, &revertErr):
		return CodeExecutionReverted
	case errors.As(err, &timeoutErr):
		return CodeSubmissionTimeout
	case errors.As(err, &upstreamErr):
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}
