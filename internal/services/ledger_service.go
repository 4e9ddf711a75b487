package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"crash-game/internal/metrics"
	"crash-game/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultLedgerRetries = 5

// AccountState is an account snapshot as of a specific version
type AccountState struct {
	UserID    uint  `json:"user_id"`
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
	Version   int64 `json:"version"`
}

// LedgerResult is the outcome of a single-entry ledger operation. A replay
// with the same refID returns the original entry with Duplicate set.
type LedgerResult struct {
	Entry     models.LedgerEntry `json:"entry"`
	Account   AccountState       `json:"account"`
	Duplicate bool               `json:"duplicate"`
}

// BetResult is the outcome of placing or settling a bet
type BetResult struct {
	Bet       models.Bet   `json:"bet"`
	Account   AccountState `json:"account"`
	Duplicate bool         `json:"duplicate"`
}

// WithdrawalResult is the outcome of requesting a withdrawal
type WithdrawalResult struct {
	Withdrawal models.Withdrawal `json:"withdrawal"`
	Account    AccountState      `json:"account"`
	Duplicate  bool              `json:"duplicate"`
}

// posting is one account mutation inside a ledger transaction
type posting struct {
	userID        uint
	op            models.OpType
	available     int64
	locked        int64
	refID         string
	relatedRefID  string
	roundID       string
	betID         string
	memo          string
	allowNegative bool
}

// LedgerService owns every balance mutation. Each mutation locks the account
// row, checks the version it read and appends a journal entry in the same
// transaction.
type LedgerService struct {
	db         *gorm.DB
	houseID    uint
	maxRetries int
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db, maxRetries: defaultLedgerRetries}
}

// EnsureHouse creates the house user and account if missing
func (s *LedgerService) EnsureHouse(ctx context.Context) (uint, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where(models.User{WalletAddress: models.HouseWallet}).
		Attrs(models.User{Chain: models.ChainSystem, Nickname: "house"}).
		FirstOrCreate(&user).Error
	if err != nil {
		return 0, fmt.Errorf("failed to ensure house user: %w", err)
	}
	if err := s.EnsureAccount(ctx, user.ID); err != nil {
		return 0, err
	}
	s.houseID = user.ID
	return user.ID, nil
}

// HouseUserID returns the house user id, zero before EnsureHouse
func (s *LedgerService) HouseUserID() uint {
	return s.houseID
}

// EnsureAccount creates an empty account for the user if none exists
func (s *LedgerService) EnsureAccount(ctx context.Context, userID uint) error {
	return ensureAccount(s.db.WithContext(ctx), userID)
}

func ensureAccount(tx *gorm.DB, userID uint) error {
	acct := models.Account{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
		return fmt.Errorf("failed to ensure account %d: %w", userID, err)
	}
	return nil
}

// GetAccount returns the user's account
func (s *LedgerService) GetAccount(ctx context.Context, userID uint) (*models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListEntries returns the user's journal, newest first
func (s *LedgerService) ListEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("version DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// Credit adds amount to the user's available balance
func (s *LedgerService) Credit(ctx context.Context, userID uint, amount int64, op models.OpType, refID string) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if op != models.OpDeposit && op != models.OpAdjustment {
		return nil, fmt.Errorf("credit does not accept op type %q", op)
	}
	return s.single(ctx, posting{
		userID:    userID,
		op:        op,
		available: amount,
		refID:     refID,
	}, true)
}

// Adjust applies an operator correction to the user's available balance.
// Negative adjustments cannot overdraw a player account.
func (s *LedgerService) Adjust(ctx context.Context, userID uint, delta int64, refID, memo string) (*LedgerResult, error) {
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkClientRef(refID); err != nil {
		return nil, err
	}
	return s.single(ctx, posting{
		userID:        userID,
		op:            models.OpAdjustment,
		available:     delta,
		refID:         refID,
		memo:          memo,
		allowNegative: userID == s.houseID,
	}, delta > 0)
}

// checkClientRef rejects refIDs a caller could use to squat on a key the
// server derives for settlements, refunds, deposits or reversals
func checkClientRef(ref string) error {
	if ref == "" {
		return ErrInvalidRefID
	}
	if models.IsReservedRefID(ref) {
		return fmt.Errorf("%w: %q", ErrReservedRefID, ref)
	}
	return nil
}

// single applies one posting with refID idempotency
func (s *LedgerService) single(ctx context.Context, p posting, createAccount bool) (*LedgerResult, error) {
	if p.refID == "" {
		return nil, ErrInvalidRefID
	}
	if prior, err := s.replayEntry(ctx, p.refID, p.userID, p.op); prior != nil || err != nil {
		return prior, err
	}

	var entry *models.LedgerEntry
	err := s.run(ctx, nil, func(tx *gorm.DB) error {
		if createAccount {
			if err := ensureAccount(tx, p.userID); err != nil {
				return err
			}
		}
		var err error
		entry, err = s.post(tx, p, nil)
		return err
	})
	if err != nil {
		if prior, rerr := s.replayEntry(ctx, p.refID, p.userID, p.op); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &LedgerResult{Entry: *entry, Account: stateOf(entry)}, nil
}

// PlaceBetParams describes a stake to lock for a round
type PlaceBetParams struct {
	UserID          uint
	RoundID         string
	Amount          int64
	RefID           string
	ExpectedVersion *int64
	AutoCashout     *int64
	PlacedAt        time.Time
}

// PlaceBet moves the stake from available to locked and records the bet in
// one transaction
func (s *LedgerService) PlaceBet(ctx context.Context, p PlaceBetParams) (*BetResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkClientRef(p.RefID); err != nil {
		return nil, err
	}
	if prior, err := s.replayBet(ctx, p.RefID, p.UserID, models.OpBet); prior != nil || err != nil {
		return prior, err
	}

	placedAt := p.PlacedAt
	if placedAt.IsZero() {
		placedAt = time.Now()
	}

	var (
		bet   models.Bet
		entry *models.LedgerEntry
	)
	err := s.run(ctx, p.ExpectedVersion, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Bet{}).
			Where("user_id = ? AND round_id = ?", p.UserID, p.RoundID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrBetExists
		}

		bet = models.Bet{
			ID:          uuid.New().String(),
			RoundID:     p.RoundID,
			UserID:      p.UserID,
			Amount:      p.Amount,
			AutoCashout: p.AutoCashout,
			Status:      models.BetStatusActive,
			RefID:       p.RefID,
			PlacedAt:    placedAt,
		}

		var err error
		entry, err = s.post(tx, posting{
			userID:    p.UserID,
			op:        models.OpBet,
			available: -p.Amount,
			locked:    p.Amount,
			refID:     p.RefID,
			roundID:   p.RoundID,
			betID:     bet.ID,
		}, p.ExpectedVersion)
		if err != nil {
			return err
		}

		if err := tx.Create(&bet).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrBetExists
			}
			return fmt.Errorf("failed to create bet: %w", err)
		}
		return nil
	})
	if err != nil {
		if prior, rerr := s.replayBet(ctx, p.RefID, p.UserID, models.OpBet); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &BetResult{Bet: bet, Account: stateOf(entry)}, nil
}

// SettleParams describes the final outcome of an active bet. Payout zero
// settles the bet as lost.
type SettleParams struct {
	BetID             string
	Payout            int64
	CashoutMultiplier *int64
	RefID             string
	SettledAt         time.Time
}

// SettleBet releases the stake and pays out. The house account takes the
// other side: it receives lost stakes and funds winnings above the stake.
// A bet settles exactly once; settling an already settled bet under a
// different refID returns ErrDuplicateOperation.
func (s *LedgerService) SettleBet(ctx context.Context, p SettleParams) (*BetResult, error) {
	if p.Payout < 0 {
		return nil, ErrInvalidAmount
	}
	if p.RefID == "" {
		return nil, ErrInvalidRefID
	}
	if s.houseID == 0 {
		return nil, errors.New("house account not initialized")
	}
	if prior, err := s.replaySettlement(ctx, p.RefID, p.BetID); prior != nil || err != nil {
		return prior, err
	}

	settledAt := p.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}

	var (
		bet   models.Bet
		entry *models.LedgerEntry
	)
	err := s.run(ctx, nil, func(tx *gorm.DB) error {
		if err := lockBet(tx, p.BetID, &bet); err != nil {
			return err
		}
		if bet.Status != models.BetStatusActive {
			return fmt.Errorf("%w: bet %s already %s", ErrDuplicateOperation, bet.ID, bet.Status)
		}

		userLeg := posting{
			userID:  bet.UserID,
			locked:  -bet.Amount,
			refID:   p.RefID,
			roundID: bet.RoundID,
			betID:   bet.ID,
		}
		houseLeg := posting{
			userID:        s.houseID,
			refID:         p.RefID + ":house",
			relatedRefID:  p.RefID,
			roundID:       bet.RoundID,
			betID:         bet.ID,
			allowNegative: true,
		}
		updates := map[string]interface{}{"settled_at": settledAt}

		if p.Payout == 0 {
			userLeg.op = models.OpBet
			houseLeg.op = models.OpBet
			houseLeg.available = bet.Amount
			updates["status"] = models.BetStatusLost
			updates["payout_amount"] = int64(0)
		} else {
			userLeg.op = models.OpPayout
			userLeg.available = p.Payout
			houseLeg.op = models.OpPayout
			houseLeg.available = bet.Amount - p.Payout
			updates["status"] = models.BetStatusCashedOut
			updates["payout_amount"] = p.Payout
			updates["cashout_multiplier"] = p.CashoutMultiplier
		}

		var err error
		if entry, err = s.post(tx, userLeg, nil); err != nil {
			return err
		}
		if houseLeg.available != 0 {
			if _, err := s.post(tx, houseLeg, nil); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Bet{}).
			Where("id = ? AND status = ?", bet.ID, models.BetStatusActive).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update bet: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: bet %s changed concurrently", ErrDuplicateOperation, bet.ID)
		}
		return tx.Where("id = ?", bet.ID).First(&bet).Error
	})
	if err != nil {
		if prior, rerr := s.replaySettlement(ctx, p.RefID, p.BetID); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &BetResult{Bet: bet, Account: stateOf(entry)}, nil
}

// RefundBet returns the full stake of an active bet to available
func (s *LedgerService) RefundBet(ctx context.Context, betID, refID string) (*BetResult, error) {
	if refID == "" {
		return nil, ErrInvalidRefID
	}
	if prior, err := s.replaySettlement(ctx, refID, betID); prior != nil || err != nil {
		return prior, err
	}

	var (
		bet   models.Bet
		entry *models.LedgerEntry
	)
	err := s.run(ctx, nil, func(tx *gorm.DB) error {
		if err := lockBet(tx, betID, &bet); err != nil {
			return err
		}
		if bet.Status != models.BetStatusActive {
			return fmt.Errorf("%w: bet %s already %s", ErrDuplicateOperation, bet.ID, bet.Status)
		}

		var err error
		entry, err = s.post(tx, posting{
			userID:    bet.UserID,
			op:        models.OpAdjustment,
			available: bet.Amount,
			locked:    -bet.Amount,
			refID:     refID,
			roundID:   bet.RoundID,
			betID:     bet.ID,
			memo:      "round voided",
		}, nil)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Bet{}).
			Where("id = ? AND status = ?", bet.ID, models.BetStatusActive).
			Updates(map[string]interface{}{"status": models.BetStatusRefunded, "settled_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to update bet: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: bet %s changed concurrently", ErrDuplicateOperation, bet.ID)
		}
		bet.Status = models.BetStatusRefunded
		bet.SettledAt = &now
		return nil
	})
	if err != nil {
		if prior, rerr := s.replaySettlement(ctx, refID, betID); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &BetResult{Bet: bet, Account: stateOf(entry)}, nil
}

// RequestWithdrawal debits available and records a pending payment intent
func (s *LedgerService) RequestWithdrawal(ctx context.Context, userID uint, amount int64, toAddress, refID string) (*WithdrawalResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkClientRef(refID); err != nil {
		return nil, err
	}
	if prior, err := s.replayWithdrawal(ctx, refID, userID); prior != nil || err != nil {
		return prior, err
	}

	var (
		w     models.Withdrawal
		entry *models.LedgerEntry
	)
	err := s.run(ctx, nil, func(tx *gorm.DB) error {
		var err error
		entry, err = s.post(tx, posting{
			userID:    userID,
			op:        models.OpWithdrawal,
			available: -amount,
			refID:     refID,
			memo:      "withdrawal to " + toAddress,
		}, nil)
		if err != nil {
			return err
		}
		w = models.Withdrawal{
			ID:        uuid.New().String(),
			RefID:     refID,
			UserID:    userID,
			Amount:    amount,
			ToAddress: toAddress,
			Status:    models.WithdrawalPending,
		}
		return tx.Create(&w).Error
	})
	if err != nil {
		if prior, rerr := s.replayWithdrawal(ctx, refID, userID); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &WithdrawalResult{Withdrawal: w, Account: stateOf(entry)}, nil
}

// ReverseWithdrawal credits back an unsent withdrawal with an adjustment
// entry that references the original refID, and marks the intent failed
func (s *LedgerService) ReverseWithdrawal(ctx context.Context, refID, reason string) (*LedgerResult, error) {
	w, err := s.GetWithdrawal(ctx, refID)
	if err != nil {
		return nil, err
	}
	reversalRef := w.ReversalRefID()
	if prior, err := s.replayEntry(ctx, reversalRef, w.UserID, models.OpAdjustment); prior != nil || err != nil {
		return prior, err
	}

	var entry *models.LedgerEntry
	err = s.run(ctx, nil, func(tx *gorm.DB) error {
		var locked models.Withdrawal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ref_id = ?", refID).First(&locked).Error; err != nil {
			return err
		}
		if locked.Reversed {
			return ErrDuplicateOperation
		}
		if locked.Status == models.WithdrawalSent {
			return fmt.Errorf("%w: withdrawal %s already sent", ErrWithdrawalState, refID)
		}

		var err error
		entry, err = s.post(tx, posting{
			userID:       locked.UserID,
			op:           models.OpAdjustment,
			available:    locked.Amount,
			refID:        reversalRef,
			relatedRefID: refID,
			memo:         reason,
		}, nil)
		if err != nil {
			return err
		}
		return tx.Model(&models.Withdrawal{}).
			Where("ref_id = ?", refID).
			Updates(map[string]interface{}{
				"status":         models.WithdrawalFailed,
				"reversed":       true,
				"failure_reason": reason,
			}).Error
	})
	if err != nil {
		if prior, rerr := s.replayEntry(ctx, reversalRef, w.UserID, models.OpAdjustment); prior != nil || rerr != nil {
			return prior, rerr
		}
		return nil, err
	}
	return &LedgerResult{Entry: *entry, Account: stateOf(entry)}, nil
}

// MarkWithdrawalProcessing claims a pending withdrawal for payment.
// It returns false when another worker already claimed it.
func (s *LedgerService) MarkWithdrawalProcessing(ctx context.Context, refID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("ref_id = ? AND status = ?", refID, models.WithdrawalPending).
		Update("status", models.WithdrawalProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteWithdrawal records that the payment was broadcast. No entry is
// written: the debit happened when the intent was created.
func (s *LedgerService) CompleteWithdrawal(ctx context.Context, refID, txHash string) (*models.Withdrawal, error) {
	res := s.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("ref_id = ? AND status IN ?", refID, []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing}).
		Updates(map[string]interface{}{"status": models.WithdrawalSent, "tx_hash": txHash})
	if res.Error != nil {
		return nil, res.Error
	}

	w, err := s.GetWithdrawal(ctx, refID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && !(w.Status == models.WithdrawalSent && w.TxHash == txHash) {
		return nil, fmt.Errorf("%w: withdrawal %s is %s", ErrWithdrawalState, refID, w.Status)
	}
	return w, nil
}

// GetWithdrawal returns a withdrawal by refID
func (s *LedgerService) GetWithdrawal(ctx context.Context, refID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := s.db.WithContext(ctx).Where("ref_id = ?", refID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWithdrawals returns a user's withdrawals, newest first
func (s *LedgerService) ListWithdrawals(ctx context.Context, userID uint, limit int) ([]models.Withdrawal, error) {
	var ws []models.Withdrawal
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&ws).Error
	return ws, err
}

// ListWithdrawalsByStatus returns withdrawals in a status, oldest first
func (s *LedgerService) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.Withdrawal, error) {
	var ws []models.Withdrawal
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&ws).Error
	return ws, err
}

// run executes fn in a transaction. Without an expected version, version
// conflicts are retried internally.
func (s *LedgerService) run(ctx context.Context, expectedVersion *int64, fn func(tx *gorm.DB) error) error {
	attempts := 1
	if expectedVersion == nil {
		attempts = s.maxRetries
	}
	for i := 0; ; i++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		metrics.LedgerConflicts.Inc()
		if i+1 >= attempts {
			return err
		}
		log.Printf("[Ledger] version conflict, retrying (%d/%d)", i+1, attempts)
	}
}

// post locks the account, applies the deltas with a version CAS and appends
// the journal entry. Must run inside a transaction.
func (s *LedgerService) post(tx *gorm.DB, p posting, expectedVersion *int64) (*models.LedgerEntry, error) {
	var acct models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", p.userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if expectedVersion != nil && acct.Version != *expectedVersion {
		return nil, ErrVersionConflict
	}

	available := acct.Available + p.available
	locked := acct.Locked + p.locked
	if locked < 0 {
		return nil, fmt.Errorf("%w: locked balance of user %d would be negative", ErrInsufficientFunds, p.userID)
	}
	if available < 0 && !p.allowNegative {
		return nil, ErrInsufficientFunds
	}

	res := tx.Model(&models.Account{}).
		Where("user_id = ? AND version = ?", p.userID, acct.Version).
		Updates(map[string]interface{}{
			"available": available,
			"locked":    locked,
			"version":   acct.Version + 1,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	entry := models.LedgerEntry{
		EntryID:        uuid.New().String(),
		UserID:         p.userID,
		OpType:         p.op,
		Amount:         p.available + p.locked,
		AvailableDelta: p.available,
		LockedDelta:    p.locked,
		AvailableAfter: available,
		LockedAfter:    locked,
		Version:        acct.Version + 1,
		RefID:          p.refID,
		RelatedRefID:   p.relatedRefID,
		RoundID:        p.roundID,
		BetID:          p.betID,
		Memo:           p.memo,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return &entry, nil
}

func lockBet(tx *gorm.DB, betID string, bet *models.Bet) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", betID).First(bet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBetNotFound
	}
	return err
}

func (s *LedgerService) findEntry(ctx context.Context, refID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.WithContext(ctx).Where("ref_id = ?", refID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// replayEntry returns the recorded result for refID, nil if it was never used
func (s *LedgerService) replayEntry(ctx context.Context, refID string, userID uint, op models.OpType) (*LedgerResult, error) {
	entry, err := s.findEntry(ctx, refID)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.UserID != userID || entry.OpType != op {
		return nil, ErrRefIDConflict
	}
	return &LedgerResult{Entry: *entry, Account: stateOf(entry), Duplicate: true}, nil
}

func (s *LedgerService) replayBet(ctx context.Context, refID string, userID uint, op models.OpType) (*BetResult, error) {
	entry, err := s.findEntry(ctx, refID)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.UserID != userID || entry.OpType != op || entry.BetID == "" {
		return nil, ErrRefIDConflict
	}
	var bet models.Bet
	if err := s.db.WithContext(ctx).Where("id = ?", entry.BetID).First(&bet).Error; err != nil {
		return nil, fmt.Errorf("failed to load bet for ref %s: %w", refID, err)
	}
	return &BetResult{Bet: bet, Account: stateOf(entry), Duplicate: true}, nil
}

func (s *LedgerService) replaySettlement(ctx context.Context, refID, betID string) (*BetResult, error) {
	entry, err := s.findEntry(ctx, refID)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.BetID != betID {
		return nil, ErrRefIDConflict
	}
	var bet models.Bet
	if err := s.db.WithContext(ctx).Where("id = ?", betID).First(&bet).Error; err != nil {
		return nil, fmt.Errorf("failed to load bet %s: %w", betID, err)
	}
	return &BetResult{Bet: bet, Account: stateOf(entry), Duplicate: true}, nil
}

func (s *LedgerService) replayWithdrawal(ctx context.Context, refID string, userID uint) (*WithdrawalResult, error) {
	entry, err := s.findEntry(ctx, refID)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.UserID != userID || entry.OpType != models.OpWithdrawal {
		return nil, ErrRefIDConflict
	}
	w, err := s.GetWithdrawal(ctx, refID)
	if err != nil {
		return nil, err
	}
	return &WithdrawalResult{Withdrawal: *w, Account: stateOf(entry), Duplicate: true}, nil
}

func stateOf(e *models.LedgerEntry) AccountState {
	return AccountState{
		UserID:    e.UserID,
		Available: e.AvailableAfter,
		Locked:    e.LockedAfter,
		Version:   e.Version,
	}
}
