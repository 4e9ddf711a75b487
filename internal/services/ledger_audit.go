package services

import (
	"context"
	"fmt"

	"crash-game/internal/models"
)

// AccountCheck compares an account with the sum of its journal
type AccountCheck struct {
	UserID       uint  `json:"user_id"`
	Available    int64 `json:"available"`
	Locked       int64 `json:"locked"`
	SumAmount    int64 `json:"sum_amount"`
	SumAvailable int64 `json:"sum_available"`
	SumLocked    int64 `json:"sum_locked"`
	Entries      int64 `json:"entries"`
}

// OK reports whether available+locked equals the journal total and each
// bucket equals its own delta sum
func (c AccountCheck) OK() bool {
	return c.Available+c.Locked == c.SumAmount &&
		c.Available == c.SumAvailable &&
		c.Locked == c.SumLocked
}

const accountCheckQuery = `
SELECT a.user_id AS user_id,
       a.available AS available,
       a.locked AS locked,
       COALESCE(SUM(e.amount), 0) AS sum_amount,
       COALESCE(SUM(e.available_delta), 0) AS sum_available,
       COALESCE(SUM(e.locked_delta), 0) AS sum_locked,
       COUNT(e.id) AS entries
FROM accounts a
LEFT JOIN ledger_entries e ON e.user_id = a.user_id
%s
GROUP BY a.user_id, a.available, a.locked
ORDER BY a.user_id`

// CheckAccount verifies a single account against its journal
func (s *LedgerService) CheckAccount(ctx context.Context, userID uint) (*AccountCheck, error) {
	var rows []AccountCheck
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf(accountCheckQuery, "WHERE a.user_id = ?"), userID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to check account %d: %w", userID, err)
	}
	if len(rows) == 0 {
		return nil, ErrAccountNotFound
	}
	return &rows[0], nil
}

// CheckAllAccounts verifies every account in one grouped query
func (s *LedgerService) CheckAllAccounts(ctx context.Context) ([]AccountCheck, error) {
	var rows []AccountCheck
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf(accountCheckQuery, "")).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to check accounts: %w", err)
	}
	return rows, nil
}

// Liabilities returns the total owed to all accounts, house included
func (s *LedgerService) Liabilities(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Select("COALESCE(SUM(available + locked), 0)").
		Scan(&total).Error
	return total, err
}

// InFlightWithdrawals returns the total debited but not yet paid out
func (s *LedgerService) InFlightWithdrawals(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("status IN ?", []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
