package models

import (
	"time"
)

// BetStatus represents the state of a bet
type BetStatus string

const (
	BetStatusActive    BetStatus = "active"
	BetStatusCashedOut BetStatus = "cashed_out"
	BetStatusLost      BetStatus = "lost"
	BetStatusRefunded  BetStatus = "refunded"
)

// Bet is a single stake in a round. A user has at most one bet per round.
type Bet struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	RoundID           string     `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_bet_user_round,priority:2" json:"round_id"`
	UserID            uint       `gorm:"not null;uniqueIndex:idx_bet_user_round,priority:1" json:"user_id"`
	Amount            int64      `gorm:"not null" json:"amount"`
	AutoCashout       *int64     `json:"auto_cashout,omitempty"` // hundredths
	Status            BetStatus  `gorm:"size:20;not null;index" json:"status"`
	CashoutMultiplier *int64     `json:"cashout_multiplier,omitempty"` // hundredths
	PayoutAmount      *int64     `json:"payout_amount,omitempty"`
	RefID             string     `gorm:"size:160;uniqueIndex;not null" json:"ref_id"`
	PlacedAt          time.Time  `gorm:"not null" json:"placed_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}

func (Bet) TableName() string {
	return "bets"
}

// PlaceBetRequest is the API request to place a bet in the current round
type PlaceBetRequest struct {
	Amount      string `json:"amount" binding:"required"`
	AutoCashout string `json:"auto_cashout"`
	RefID       string `json:"ref_id" binding:"required"`
	// ExpectedVersion optionally pins the account version the client saw
	ExpectedVersion *int64 `json:"expected_version"`
}

// BetResponse is the API view of a bet
type BetResponse struct {
	ID                string    `json:"id"`
	RoundID           string    `json:"round_id"`
	Amount            int64     `json:"amount"`
	AmountDisplay     string    `json:"amount_display"`
	AutoCashout       string    `json:"auto_cashout,omitempty"`
	Status            BetStatus `json:"status"`
	CashoutMultiplier string    `json:"cashout_multiplier,omitempty"`
	PayoutAmount      *int64    `json:"payout_amount,omitempty"`
	PlacedAt          time.Time `json:"placed_at"`
}

// ToResponse converts a bet to its API view
func (b *Bet) ToResponse(decimals int32) BetResponse {
	resp := BetResponse{
		ID:            b.ID,
		RoundID:       b.RoundID,
		Amount:        b.Amount,
		AmountDisplay: FormatMinor(b.Amount, decimals),
		Status:        b.Status,
		PayoutAmount:  b.PayoutAmount,
		PlacedAt:      b.PlacedAt,
	}
	if b.AutoCashout != nil {
		resp.AutoCashout = FormatMultiplier(*b.AutoCashout)
	}
	if b.CashoutMultiplier != nil {
		resp.CashoutMultiplier = FormatMultiplier(*b.CashoutMultiplier)
	}
	return resp
}
