package models

import (
	"time"
)

// DepositStatus represents where a deposit is in the crediting pipeline
type DepositStatus string

const (
	// DepositPending is confirmed on chain and attributed, not yet credited
	DepositPending DepositStatus = "pending"
	// DepositUnattributed came from an address not linked to any user
	DepositUnattributed DepositStatus = "unattributed"
	DepositCredited     DepositStatus = "credited"
	// DepositOrphaned disappeared from the canonical chain before crediting
	DepositOrphaned DepositStatus = "orphaned"
	// DepositInvalidated disappeared after it was credited
	DepositInvalidated DepositStatus = "invalidated"
)

// DepositRecord is one observed transfer into the custodial address. Credited
// flips once and never back; the ledger refID is derived from TxHash.
type DepositRecord struct {
	TxHash      string        `gorm:"size:128;primaryKey" json:"tx_hash"`
	BlockHeight uint64        `gorm:"not null;index" json:"block_height"`
	BlockHash   string        `gorm:"size:128" json:"block_hash"`
	FromAddress string        `gorm:"size:128;index" json:"from_address"`
	ToAddress   string        `gorm:"size:128;not null" json:"to_address"`
	Amount      int64         `gorm:"not null" json:"amount"`
	UserID      *uint         `gorm:"index" json:"user_id,omitempty"`
	Status      DepositStatus `gorm:"size:20;not null;index" json:"status"`
	Credited    bool          `gorm:"not null;default:false" json:"credited"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	CreditedAt  *time.Time    `json:"credited_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (DepositRecord) TableName() string {
	return "deposit_records"
}

// LedgerRefID is the idempotency key used when crediting the deposit
func (d *DepositRecord) LedgerRefID() string {
	return RefPrefixDeposit + d.TxHash
}

// IndexerCursor stores the last fully processed block per indexer
type IndexerCursor struct {
	Name      string    `gorm:"size:64;primaryKey" json:"name"`
	Height    uint64    `gorm:"not null" json:"height"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IndexerCursor) TableName() string {
	return "indexer_cursors"
}

// ReprocessRequest asks the indexer to rescan an explicit block range
type ReprocessRequest struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block" binding:"required"`
}

// AssignDepositRequest attributes an unattributed deposit to a user
type AssignDepositRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}
