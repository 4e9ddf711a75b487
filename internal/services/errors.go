package services

import (
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrVersionConflict means the account changed underneath the caller; retry
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicateOperation means the operation was already applied
	ErrDuplicateOperation        = errors.New("duplicate operation")
	ErrRoundStateViolation       = errors.New("round state violation")
	ErrFairnessRevealTimeout     = errors.New("fairness reveal timed out")
	ErrLedgerReconciliationFault = errors.New("ledger reconciliation fault")
	ErrChainReorgDetected        = errors.New("chain reorg detected")

	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidRefID       = errors.New("ref id is required")
	ErrRefIDConflict      = errors.New("ref id already used for a different operation")
	ErrReservedRefID      = errors.New("ref id uses a reserved prefix")
	ErrAccountNotFound    = errors.New("account not found")
	ErrBetExists          = errors.New("bet already placed in this round")
	ErrBetNotFound        = errors.New("bet not found")
	ErrOperationPaused    = errors.New("operation paused by kill switch")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrWithdrawalState    = errors.New("withdrawal is not in a state that allows this")
	ErrIncidentOpen       = errors.New("switch is held by an open incident")
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrUnknownSwitch      = errors.New("unknown kill switch")
	ErrEngineBusy         = errors.New("round engine did not respond in time")
	ErrDepositNotFound    = errors.New("deposit not found")
	ErrDepositState       = errors.New("deposit is not in a state that allows this")
	ErrInvalidAutoCashout = errors.New("auto cash-out must be between 1.01x and the maximum multiplier")
	ErrInvalidAddress     = errors.New("invalid wallet address")
	ErrChallengeInvalid   = errors.New("login challenge is unknown, used or expired")
	ErrInvalidNickname    = errors.New("nickname must be 3-32 letters, digits or underscores")
	ErrNicknameTaken      = errors.New("nickname already taken")
)

// IsRetryable reports whether the caller may retry the same request
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrEngineBusy)
}
