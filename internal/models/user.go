package models

import (
	"time"
)

// HouseWallet is the wallet address of the reserved system user that holds
// the house side of every settlement.
const HouseWallet = "system:house"

// Supported wallet chains
const (
	ChainEVM    = "evm"
	ChainSolana = "solana"
	ChainSystem = "system"
)

// User represents a player (or the house) in the system
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Chain         string    `gorm:"size:16;not null;default:evm" json:"chain"`
	Nickname      string    `gorm:"uniqueIndex;not null" json:"nickname"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// IsHouse reports whether the user is the house system account
func (u *User) IsHouse() bool {
	return u.WalletAddress == HouseWallet
}

// LoginChallenge is a single-use message a wallet must sign to log in
type LoginChallenge struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	WalletAddress string     `gorm:"index;not null" json:"wallet_address"`
	Chain         string     `gorm:"size:16;not null" json:"chain"`
	Nonce         string     `gorm:"uniqueIndex;not null" json:"nonce"`
	Message       string     `gorm:"type:text;not null" json:"message"`
	ExpiresAt     time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt        *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"-"`
}

func (LoginChallenge) TableName() string {
	return "login_challenges"
}

// WalletLoginRequest represents a signed wallet login
type WalletLoginRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Chain         string `json:"chain" binding:"required"`
	Nonce         string `json:"nonce" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

// ChallengeRequest asks for a login challenge for a wallet
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Chain         string `json:"chain" binding:"required"`
}
