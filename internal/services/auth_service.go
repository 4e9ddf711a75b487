package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"crash-game/internal/blockchain"
	"crash-game/internal/models"
	"crash-game/internal/repository"
	"crash-game/internal/utils"
)

const nicknameAttempts = 5

// AuthService handles wallet challenge login
type AuthService struct {
	db           *gorm.DB
	repo         *repository.Repository
	ledger       *LedgerService
	challengeTTL time.Duration
	adminWallets map[string]bool
}

// NewAuthService creates a new AuthService
func NewAuthService(db *gorm.DB, ledger *LedgerService, challengeTTL time.Duration, adminWallets []string) *AuthService {
	admins := make(map[string]bool, len(adminWallets))
	for _, w := range adminWallets {
		admins[strings.ToLower(w)] = true
	}
	return &AuthService{
		db:           db,
		repo:         repository.NewRepository(db),
		ledger:       ledger,
		challengeTTL: challengeTTL,
		adminWallets: admins,
	}
}

// Challenge issues a single-use message for the wallet to sign
func (s *AuthService) Challenge(ctx context.Context, wallet, chain string) (*models.LoginChallenge, error) {
	if err := blockchain.ValidateAddress(chain, wallet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	wallet = blockchain.NormalizeAddress(chain, wallet)

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(raw)
	expires := time.Now().Add(s.challengeTTL).UTC()

	challenge := &models.LoginChallenge{
		WalletAddress: wallet,
		Chain:         chain,
		Nonce:         nonce,
		Message: fmt.Sprintf("Sign in to Crash\nWallet: %s\nNonce: %s\nExpires: %s",
			wallet, nonce, expires.Format(time.RFC3339)),
		ExpiresAt: expires,
	}
	if err := s.db.WithContext(ctx).Create(challenge).Error; err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return challenge, nil
}

// WalletLogin checks the signed challenge and returns the wallet's user,
// creating it on first login
func (s *AuthService) WalletLogin(ctx context.Context, req models.WalletLoginRequest) (*models.User, error) {
	wallet := blockchain.NormalizeAddress(req.Chain, req.WalletAddress)

	var challenge models.LoginChallenge
	err := s.db.WithContext(ctx).Where("nonce = ?", req.Nonce).First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChallengeInvalid
	}
	if err != nil {
		return nil, err
	}
	if challenge.UsedAt != nil || time.Now().After(challenge.ExpiresAt) ||
		challenge.Chain != req.Chain || !strings.EqualFold(challenge.WalletAddress, wallet) {
		return nil, ErrChallengeInvalid
	}

	if err := blockchain.VerifySignature(req.Chain, wallet, challenge.Message, req.Signature); err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.LoginChallenge{}).
		Where("id = ? AND used_at IS NULL", challenge.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrChallengeInvalid
	}

	user, err := s.repo.FindUserByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		if user, err = s.createUser(ctx, wallet, req.Chain); err != nil {
			return nil, err
		}
		log.Printf("[Auth] new user created: wallet=%s (ID: %d)", wallet, user.ID)
	} else {
		log.Printf("[Auth] user logged in: wallet=%s (ID: %d)", wallet, user.ID)
	}

	if err := s.ledger.EnsureAccount(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// IsAdmin reports whether the user may call operator endpoints
func (s *AuthService) IsAdmin(ctx context.Context, userID uint, wallet string) bool {
	if s.adminWallets[strings.ToLower(wallet)] {
		return true
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AdminUser{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		log.Printf("[Auth] admin lookup failed for user %d: %v", userID, err)
		return false
	}
	return count > 0
}

// GetUserByID retrieves a user by their ID
func (s *AuthService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// PurgeChallenges deletes expired challenges
func (s *AuthService) PurgeChallenges(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&models.LoginChallenge{})
	return res.RowsAffected, res.Error
}

// createUser retries on nickname collisions
func (s *AuthService) createUser(ctx context.Context, wallet, chain string) (*models.User, error) {
	var lastErr error
	for i := 0; i < nicknameAttempts; i++ {
		nickname, err := utils.GenerateNickname()
		if err != nil {
			return nil, err
		}
		user := &models.User{WalletAddress: wallet, Chain: chain, Nickname: nickname}
		lastErr = s.db.WithContext(ctx).Create(user).Error
		if lastErr == nil {
			return user, nil
		}
		if !errors.Is(lastErr, gorm.ErrDuplicatedKey) {
			break
		}
		// a concurrent login may have created the wallet
		if existing, err := s.repo.FindUserByWallet(ctx, wallet); err == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("failed to create user: %w", lastErr)
}
