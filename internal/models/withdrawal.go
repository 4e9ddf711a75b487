package models

import (
	"time"
)

// WithdrawalStatus represents the state of a withdrawal intent
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalSent       WithdrawalStatus = "sent"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// InFlight reports whether the funds have left the ledger but not custody
func (s WithdrawalStatus) InFlight() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

// Withdrawal is an intent to pay Amount to ToAddress. The debit is written
// when the intent is created; a failed intent is reversed by an adjustment
// entry whose RelatedRefID is RefID.
type Withdrawal struct {
	ID            string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	RefID         string           `gorm:"size:160;uniqueIndex;not null" json:"ref_id"`
	UserID        uint             `gorm:"not null;index" json:"user_id"`
	Amount        int64            `gorm:"not null" json:"amount"`
	ToAddress     string           `gorm:"size:128;not null" json:"to_address"`
	Status        WithdrawalStatus `gorm:"size:20;not null;index" json:"status"`
	TxHash        string           `gorm:"size:128" json:"tx_hash,omitempty"`
	FailureReason string           `gorm:"size:255" json:"failure_reason,omitempty"`
	Reversed      bool             `gorm:"not null;default:false" json:"reversed"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

// ReversalRefID is the refID of the compensating adjustment entry
func (w *Withdrawal) ReversalRefID() string {
	return RefPrefixReversal + w.RefID
}

// WithdrawalRequest is the API request for a withdrawal
type WithdrawalRequest struct {
	Amount    string `json:"amount" binding:"required"`
	ToAddress string `json:"to_address" binding:"required"`
	RefID     string `json:"ref_id" binding:"required"`
}

// CompleteWithdrawalRequest is an operator confirmation of a sent payment
type CompleteWithdrawalRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// FailWithdrawalRequest is an operator rejection of a withdrawal
type FailWithdrawalRequest struct {
	Reason string `json:"reason" binding:"required"`
}
