package repository

import (
	"context"
	"errors"
	"time"

	"crash-game/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetDeposit retrieves a deposit by transaction hash, nil if unknown
func (r *Repository) GetDeposit(ctx context.Context, txHash string) (*models.DepositRecord, error) {
	var dep models.DepositRecord
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&dep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dep, nil
}

// CreateDeposit inserts a deposit unless one with the same hash exists.
// It reports whether a row was inserted.
func (r *Repository) CreateDeposit(ctx context.Context, dep *models.DepositRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(dep)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateDeposit applies updates to a deposit
func (r *Repository) UpdateDeposit(ctx context.Context, txHash string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.DepositRecord{}).
		Where("tx_hash = ?", txHash).
		Updates(updates).Error
}

// TransitionDeposit updates a deposit only if it is still in status from
func (r *Repository) TransitionDeposit(ctx context.Context, txHash string, from models.DepositStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DepositRecord{}).
		Where("tx_hash = ? AND status = ?", txHash, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkDepositCredited flips credited exactly once
func (r *Repository) MarkDepositCredited(ctx context.Context, txHash string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DepositRecord{}).
		Where("tx_hash = ? AND credited = ?", txHash, false).
		Updates(map[string]interface{}{
			"credited":    true,
			"status":      models.DepositCredited,
			"credited_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListDepositsInRange returns deposits recorded in [from, to]
func (r *Repository) ListDepositsInRange(ctx context.Context, from, to uint64) ([]*models.DepositRecord, error) {
	var deps []*models.DepositRecord
	err := r.db.WithContext(ctx).
		Where("block_height >= ? AND block_height <= ?", from, to).
		Order("block_height ASC").
		Find(&deps).Error
	return deps, err
}

// ListCreditableDeposits returns attributed, uncredited deposits at or below maxHeight
func (r *Repository) ListCreditableDeposits(ctx context.Context, maxHeight uint64, limit int) ([]*models.DepositRecord, error) {
	var deps []*models.DepositRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND credited = ? AND user_id IS NOT NULL AND block_height <= ?",
			models.DepositPending, false, maxHeight).
		Order("block_height ASC").
		Limit(limit).
		Find(&deps).Error
	return deps, err
}

// ListDeposits returns deposits in a status, newest first
func (r *Repository) ListDeposits(ctx context.Context, status models.DepositStatus, limit int) ([]*models.DepositRecord, error) {
	var deps []*models.DepositRecord
	query := r.db.WithContext(ctx).Model(&models.DepositRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("block_height DESC").Limit(limit).Find(&deps).Error
	return deps, err
}

// SumUncreditedDeposits totals deposits held in custody but not yet on the ledger
func (r *Repository) SumUncreditedDeposits(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.DepositRecord{}).
		Where("status IN ?", []models.DepositStatus{models.DepositPending, models.DepositUnattributed}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// GetCursor returns the stored height for an indexer
func (r *Repository) GetCursor(ctx context.Context, name string) (uint64, bool, error) {
	var cursor models.IndexerCursor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor.Height, true, nil
}

// SetCursor stores the height for an indexer
func (r *Repository) SetCursor(ctx context.Context, name string, height uint64) error {
	cursor := models.IndexerCursor{Name: name, Height: height, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"height", "updated_at"}),
		}).
		Create(&cursor).Error
}
