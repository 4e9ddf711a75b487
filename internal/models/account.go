package models

import (
	"time"
)

// OpType classifies a ledger entry
type OpType string

const (
	OpDeposit    OpType = "deposit"
	OpBet        OpType = "bet"
	OpPayout     OpType = "payout"
	OpWithdrawal OpType = "withdrawal"
	OpAdjustment OpType = "adjustment"
)

// Valid reports whether the op type is one of the known kinds
func (o OpType) Valid() bool {
	switch o {
	case OpDeposit, OpBet, OpPayout, OpWithdrawal, OpAdjustment:
		return true
	}
	return false
}

// Account is the materialized balance of one user. All amounts are integer
// minor units. Version increments on every mutation.
type Account struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Available int64     `gorm:"not null;default:0" json:"available"`
	Locked    int64     `gorm:"not null;default:0" json:"locked"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Total returns available + locked
func (a *Account) Total() int64 {
	return a.Available + a.Locked
}

// LedgerEntry is an append-only journal row. Amount is the signed change of
// available+locked; AvailableDelta and LockedDelta split it per bucket and the
// *After fields record the account state the entry produced.
type LedgerEntry struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	EntryID        string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"entry_id"`
	UserID         uint      `gorm:"not null;index;uniqueIndex:idx_ledger_user_version,priority:1" json:"user_id"`
	OpType         OpType    `gorm:"size:20;not null;index" json:"op_type"`
	Amount         int64     `gorm:"not null" json:"amount"`
	AvailableDelta int64     `gorm:"not null" json:"available_delta"`
	LockedDelta    int64     `gorm:"not null" json:"locked_delta"`
	AvailableAfter int64     `gorm:"not null" json:"available_after"`
	LockedAfter    int64     `gorm:"not null" json:"locked_after"`
	Version        int64     `gorm:"not null;uniqueIndex:idx_ledger_user_version,priority:2" json:"version"`
	RefID          string    `gorm:"size:160;uniqueIndex;not null" json:"ref_id"`
	RelatedRefID   string    `gorm:"size:160;index" json:"related_ref_id,omitempty"`
	RoundID        string    `gorm:"type:varchar(36);index" json:"round_id,omitempty"`
	BetID          string    `gorm:"type:varchar(36);index" json:"bet_id,omitempty"`
	Memo           string    `gorm:"size:255" json:"memo,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// AccountResponse is the API view of an account
type AccountResponse struct {
	UserID           uint   `json:"user_id"`
	Available        int64  `json:"available"`
	Locked           int64  `json:"locked"`
	AvailableDisplay string `json:"available_display"`
	LockedDisplay    string `json:"locked_display"`
	Version          int64  `json:"version"`
}

// AdjustmentRequest is an operator balance correction
type AdjustmentRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	RefID  string `json:"ref_id" binding:"required"`
	Memo   string `json:"memo"`
}

// ToResponse converts an account to its API view
func (a *Account) ToResponse(decimals int32) AccountResponse {
	return AccountResponse{
		UserID:           a.UserID,
		Available:        a.Available,
		Locked:           a.Locked,
		AvailableDisplay: FormatMinor(a.Available, decimals),
		LockedDisplay:    FormatMinor(a.Locked, decimals),
		Version:          a.Version,
	}
}
