package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"crash-game/internal/models"
)

var nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// UserService handles player profiles
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new UserService
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// PlayerStats summarizes a player's settled bets
type PlayerStats struct {
	Bets           int64 `json:"bets"`
	Wins           int64 `json:"wins"`
	Wagered        int64 `json:"wagered"`
	PaidOut        int64 `json:"paid_out"`
	Net            int64 `json:"net"`
	BestMultiplier int64 `json:"best_multiplier"`
}

// settledBets limits a query to bets whose outcome is final
func settledBets(db *gorm.DB) *gorm.DB {
	return db.Where("bets.status IN ?", []models.BetStatus{models.BetStatusCashedOut, models.BetStatusLost})
}

// GetProfile returns the user and their lifetime stats
func (s *UserService) GetProfile(ctx context.Context, userID uint) (*models.User, *PlayerStats, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, nil, err
	}

	var stats PlayerStats
	err := settledBets(s.db.WithContext(ctx).Model(&models.Bet{})).
		Where("user_id = ?", userID).
		Select(`COUNT(*) AS bets,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(amount), 0) AS wagered,
			COALESCE(SUM(payout_amount), 0) AS paid_out,
			COALESCE(MAX(cashout_multiplier), 0) AS best_multiplier`, models.BetStatusCashedOut).
		Scan(&stats).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stats: %w", err)
	}
	stats.Net = stats.PaidOut - stats.Wagered
	return &user, &stats, nil
}

// UpdateNickname renames a player. Nicknames are unique.
func (s *UserService) UpdateNickname(ctx context.Context, userID uint, nickname string) error {
	if !nicknamePattern.MatchString(nickname) {
		return ErrInvalidNickname
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND wallet_address <> ?", userID, models.HouseWallet).
		Update("nickname", nickname)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return ErrNicknameTaken
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
