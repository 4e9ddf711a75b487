package repository

import (
	"context"
	"fmt"

	"crash-game/internal/models"
)

// CreateRound creates a new round
func (r *Repository) CreateRound(ctx context.Context, round *models.Round) error {
	return r.db.WithContext(ctx).Create(round).Error
}

// GetRound retrieves a round by ID
func (r *Repository) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	var round models.Round
	err := r.db.WithContext(ctx).Where("id = ?", roundID).First(&round).Error
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// NextNonce returns the nonce for the next round
func (r *Repository) NextNonce(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.db.WithContext(ctx).Model(&models.Round{}).Select("COALESCE(MAX(nonce), 0)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// TransitionRound moves a round forward from an expected status. Updates
// are applied in the same statement.
func (r *Repository) TransitionRound(
	ctx context.Context,
	roundID string,
	from, to models.RoundStatus,
	updates map[string]interface{},
) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal round transition %s -> %s", from, to)
	}

	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}

	res := r.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND status = ?", roundID, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: round %s is not %s", ErrStaleTransition, roundID, from)
	}
	return nil
}

// RevealRound stores the server seed of a crashed round. The seed can be
// written once.
func (r *Repository) RevealRound(ctx context.Context, roundID, seed string) error {
	res := r.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND status = ? AND server_seed IS NULL", roundID, models.RoundStatusCrashed).
		Update("server_seed", seed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: round %s cannot be revealed", ErrStaleTransition, roundID)
	}
	return nil
}

// ListRounds returns rounds newest first
func (r *Repository) ListRounds(ctx context.Context, limit, offset int) ([]*models.Round, int64, error) {
	var rounds []*models.Round
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Round{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("nonce DESC").Limit(limit).Offset(offset).Find(&rounds).Error
	if err != nil {
		return nil, 0, err
	}
	return rounds, total, nil
}

// ListUnfinishedRounds returns rounds a previous process left mid-flight
func (r *Repository) ListUnfinishedRounds(ctx context.Context) ([]*models.Round, error) {
	var rounds []*models.Round
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.RoundStatus{
			models.RoundStatusCommitted,
			models.RoundStatusBetting,
			models.RoundStatusRunning,
			models.RoundStatusCrashed,
		}).
		Order("nonce ASC").
		Find(&rounds).Error
	return rounds, err
}

// GetBet retrieves a bet by ID
func (r *Repository) GetBet(ctx context.Context, betID string) (*models.Bet, error) {
	var bet models.Bet
	err := r.db.WithContext(ctx).Where("id = ?", betID).First(&bet).Error
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

// ListRoundBets returns every bet of a round in placement order
func (r *Repository) ListRoundBets(ctx context.Context, roundID string) ([]*models.Bet, error) {
	var bets []*models.Bet
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("placed_at ASC").
		Find(&bets).Error
	return bets, err
}

// ListActiveBets returns the unsettled bets of a round
func (r *Repository) ListActiveBets(ctx context.Context, roundID string) ([]*models.Bet, error) {
	var bets []*models.Bet
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND status = ?", roundID, models.BetStatusActive).
		Order("placed_at ASC").
		Find(&bets).Error
	return bets, err
}

// ListUserBets returns a user's bets newest first
func (r *Repository) ListUserBets(ctx context.Context, userID uint, limit, offset int) ([]*models.Bet, int64, error) {
	var bets []*models.Bet
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Bet{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("placed_at DESC").Limit(limit).Offset(offset).Find(&bets).Error
	if err != nil {
		return nil, 0, err
	}
	return bets, total, nil
}

// RecordCashout stores a cash-out decision on a bet that is still active,
// so a restart can honor it
func (r *Repository) RecordCashout(ctx context.Context, betID string, multiplier int64) error {
	return r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND status = ?", betID, models.BetStatusActive).
		Update("cashout_multiplier", multiplier).Error
}
