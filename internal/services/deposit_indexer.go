package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"crash-game/internal/blockchain"
	"crash-game/internal/config"
	"crash-game/internal/metrics"
	"crash-game/internal/models"
	"crash-game/internal/repository"
)

const creditBatch = 500

// DepositIndexer records confirmed transfers into the custodial address and
// credits each one to its owner exactly once. The ledger refID is derived
// from the transfer, so replays, rescans and restarts cannot credit twice.
type DepositIndexer struct {
	repo    *repository.Repository
	ledger  *LedgerService
	source  blockchain.Source
	control Controls
	cfg     config.ChainConfig
	cursor  string

	mu sync.Mutex
}

func NewDepositIndexer(
	repo *repository.Repository,
	ledger *LedgerService,
	source blockchain.Source,
	control Controls,
	cfg config.ChainConfig,
) *DepositIndexer {
	return &DepositIndexer{
		repo:    repo,
		ledger:  ledger,
		source:  source,
		control: control,
		cfg:     cfg,
		cursor:  "deposits:" + cfg.Kind,
	}
}

// Run indexes every poll interval until ctx ends
func (d *DepositIndexer) Run(ctx context.Context) error {
	log.Printf("[DepositIndexer] started (%s, %d confirmations)", d.cfg.Kind, d.cfg.Confirmations)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[DepositIndexer] cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("[DepositIndexer] stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle scans new confirmed blocks plus a trailing reorg window, then
// credits what is creditable
func (d *DepositIndexer) RunCycle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	safe, ok, err := d.safeHeight(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	last, found, err := d.repo.GetCursor(ctx, d.cursor)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}
	from := d.cfg.StartBlock
	if found {
		from = last + 1
	}
	rescan := d.cfg.StartBlock
	if from > d.cfg.StartBlock+d.cfg.ReorgBuffer {
		rescan = from - d.cfg.ReorgBuffer
	}

	if rescan <= safe {
		if err := d.scanRange(ctx, rescan, safe, true); err != nil {
			return err
		}
	}
	return d.creditPending(ctx, safe)
}

// Reprocess rescans an explicit range. The cursor never moves backwards.
func (d *DepositIndexer) Reprocess(ctx context.Context, from, to uint64) error {
	if from > to {
		return fmt.Errorf("invalid range %d-%d", from, to)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	safe, ok, err := d.safeHeight(ctx)
	if err != nil {
		return err
	}
	if !ok || from > safe {
		return fmt.Errorf("range %d-%d is not confirmed yet", from, to)
	}
	if to > safe {
		to = safe
	}

	log.Printf("[DepositIndexer] reprocessing %d-%d", from, to)
	if err := d.scanRange(ctx, from, to, false); err != nil {
		return err
	}
	return d.creditPending(ctx, safe)
}

// AssignDeposit attributes an unattributed deposit to a user. It is credited
// on the next cycle.
func (d *DepositIndexer) AssignDeposit(ctx context.Context, txHash string, userID uint) (*models.DepositRecord, error) {
	dep, err := d.repo.GetDeposit(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, ErrDepositNotFound
	}
	if _, err := d.repo.GetUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}

	ok, err := d.repo.TransitionDeposit(ctx, txHash, models.DepositUnattributed, map[string]interface{}{
		"user_id": userID,
		"status":  models.DepositPending,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: deposit is %s", ErrDepositState, dep.Status)
	}
	log.Printf("[DepositIndexer] deposit %s assigned to user %d", txHash, userID)
	return d.repo.GetDeposit(ctx, txHash)
}

func (d *DepositIndexer) safeHeight(ctx context.Context) (uint64, bool, error) {
	head, err := d.source.Head(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get chain head: %w", err)
	}
	if head+1 < d.cfg.Confirmations {
		return 0, false, nil
	}
	return head + 1 - d.cfg.Confirmations, true, nil
}

func (d *DepositIndexer) scanRange(ctx context.Context, from, to uint64, advance bool) error {
	batch := d.cfg.BatchSize
	if batch == 0 {
		batch = 500
	}
	for lo := from; lo <= to; lo += batch {
		hi := lo + batch - 1
		if hi > to {
			hi = to
		}
		if err := d.scanBatch(ctx, lo, hi); err != nil {
			return err
		}
		if advance {
			if err := d.advance(ctx, hi); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DepositIndexer) advance(ctx context.Context, height uint64) error {
	last, found, err := d.repo.GetCursor(ctx, d.cursor)
	if err != nil {
		return err
	}
	if found && last >= height {
		return nil
	}
	if err := d.repo.SetCursor(ctx, d.cursor, height); err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	}
	metrics.IndexedHeight.Set(float64(height))
	return nil
}

func (d *DepositIndexer) scanBatch(ctx context.Context, from, to uint64) error {
	transfers, err := d.source.Transfers(ctx, from, to)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		seen[t.TxHash] = true
		if err := d.record(ctx, t); err != nil {
			return err
		}
	}

	known, err := d.repo.ListDepositsInRange(ctx, from, to)
	if err != nil {
		return err
	}
	for _, dep := range known {
		if seen[dep.TxHash] || dep.Status == models.DepositOrphaned || dep.Status == models.DepositInvalidated {
			continue
		}
		if err := d.recheck(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// record stores a transfer, or updates its position after a reorg moved it
func (d *DepositIndexer) record(ctx context.Context, t blockchain.Transfer) error {
	existing, err := d.repo.GetDeposit(ctx, t.TxHash)
	if err != nil {
		return err
	}

	if existing != nil {
		updates := map[string]interface{}{
			"block_height": t.BlockHeight,
			"block_hash":   t.BlockHash,
		}
		switch {
		case existing.Status == models.DepositOrphaned:
			updates["status"] = models.DepositUnattributed
			if existing.UserID != nil {
				updates["status"] = models.DepositPending
			}
			log.Printf("[DepositIndexer] orphaned deposit %s reappeared at %d", t.TxHash, t.BlockHeight)
			_, err := d.repo.TransitionDeposit(ctx, t.TxHash, models.DepositOrphaned, updates)
			return err
		case existing.BlockHash != t.BlockHash || existing.BlockHeight != t.BlockHeight:
			log.Printf("[DepositIndexer] deposit %s moved from %d to %d", t.TxHash, existing.BlockHeight, t.BlockHeight)
			return d.repo.UpdateDeposit(ctx, t.TxHash, updates)
		}
		return nil
	}

	if t.Amount <= 0 {
		return nil
	}
	user, err := d.repo.FindUserByWallet(ctx, t.From)
	if err != nil {
		return err
	}
	now := time.Now()
	dep := &models.DepositRecord{
		TxHash:      t.TxHash,
		BlockHeight: t.BlockHeight,
		BlockHash:   t.BlockHash,
		FromAddress: t.From,
		ToAddress:   t.To,
		Amount:      t.Amount,
		Status:      models.DepositUnattributed,
		ConfirmedAt: &now,
	}
	if user != nil {
		dep.UserID = &user.ID
		dep.Status = models.DepositPending
	}
	created, err := d.repo.CreateDeposit(ctx, dep)
	if err != nil {
		return fmt.Errorf("failed to record deposit %s: %w", t.TxHash, err)
	}
	if created {
		log.Printf("[DepositIndexer] deposit %s of %d from %s (%s)", t.TxHash, t.Amount, t.From, dep.Status)
	}
	return nil
}

// recheck looks up a known deposit the range scan no longer returned
func (d *DepositIndexer) recheck(ctx context.Context, dep *models.DepositRecord) error {
	current, err := d.source.Lookup(ctx, dep.TxHash)
	if err != nil {
		return err
	}
	if current != nil {
		return d.record(ctx, *current)
	}

	detail := fmt.Sprintf("deposit %s of %d at block %d is no longer on the canonical chain", dep.TxHash, dep.Amount, dep.BlockHeight)
	log.Printf("[DepositIndexer] %v: %s", ErrChainReorgDetected, detail)

	// Raise before the transition: orphaned and invalidated deposits are
	// never rechecked, so a failed raise has to leave this one in place.
	subject := dep.LedgerRefID()
	if _, err := d.control.RaiseIncident(ctx, models.IncidentChainReorg, subject, detail); err != nil {
		return fmt.Errorf("failed to raise reorg incident for %s: %w", dep.TxHash, err)
	}
	next := models.DepositOrphaned
	if dep.Credited {
		next = models.DepositInvalidated
		// the credit stays on the ledger until an operator reconciles it
		if _, err := d.control.RaiseIncident(ctx, models.IncidentLedgerReconciliation, subject,
			fmt.Sprintf("%v: %s was already credited", ErrLedgerReconciliationFault, dep.TxHash)); err != nil {
			return fmt.Errorf("failed to raise reconciliation incident for %s: %w", dep.TxHash, err)
		}
	}

	_, err = d.repo.TransitionDeposit(ctx, dep.TxHash, dep.Status, map[string]interface{}{"status": next})
	return err
}

func (d *DepositIndexer) creditPending(ctx context.Context, safe uint64) error {
	if d.control.IsPaused(models.SwitchPauseDeposits) {
		return nil
	}

	deps, err := d.repo.ListCreditableDeposits(ctx, safe, creditBatch)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		res, err := d.ledger.Credit(ctx, *dep.UserID, dep.Amount, models.OpDeposit, dep.LedgerRefID())
		if err != nil && !errors.Is(err, ErrDuplicateOperation) {
			log.Printf("[DepositIndexer] failed to credit %s: %v", dep.TxHash, err)
			continue
		}
		if _, err := d.repo.MarkDepositCredited(ctx, dep.TxHash, time.Now()); err != nil {
			return fmt.Errorf("failed to mark %s credited: %w", dep.TxHash, err)
		}
		if res != nil && !res.Duplicate {
			metrics.DepositsCredited.Inc()
			log.Printf("[DepositIndexer] credited %d to user %d (%s)", dep.Amount, *dep.UserID, dep.TxHash)
		}
	}
	return nil
}
