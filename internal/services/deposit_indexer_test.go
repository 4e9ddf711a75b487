package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crash-game/internal/blockchain"
	"crash-game/internal/config"
	"crash-game/internal/models"
	"crash-game/internal/realtime"
	"crash-game/internal/repository"
)

// fakeChain is an in-memory Source whose canonical transfers can be rewritten
// to simulate reorgs
type fakeChain struct {
	mu        sync.Mutex
	head      uint64
	transfers map[string]blockchain.Transfer
	custody   int64
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, transfers: make(map[string]blockchain.Transfer)}
}

func (c *fakeChain) add(t blockchain.Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers[t.TxHash] = t
}

func (c *fakeChain) drop(txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transfers, txHash)
}

func (c *fakeChain) setHead(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = h
}

func (c *fakeChain) Head(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) Transfers(ctx context.Context, from, to uint64) ([]blockchain.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []blockchain.Transfer
	for _, t := range c.transfers {
		if t.BlockHeight >= from && t.BlockHeight <= to {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *fakeChain) Lookup(ctx context.Context, txHash string) (*blockchain.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transfers[txHash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (c *fakeChain) CustodyBalance(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.custody, nil
}

type indexerHarness struct {
	indexer *DepositIndexer
	ledger  *LedgerService
	repo    *repository.Repository
	control *ControlService
	chain   *fakeChain
	alice   uint
}

func newIndexerHarness(t *testing.T) *indexerHarness {
	t.Helper()
	ledger, db := newTestLedger(t)
	repo := repository.NewRepository(db)
	control := NewControlService(db, realtime.NewBroadcaster(64, 64))
	if err := control.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	chain := newFakeChain(100)
	cfg := config.ChainConfig{
		Kind:          "evm",
		Confirmations: 3,
		ReorgBuffer:   10,
		StartBlock:    50,
		BatchSize:     7,
		PollInterval:  time.Second,
	}
	return &indexerHarness{
		indexer: NewDepositIndexer(repo, ledger, chain, control, cfg),
		ledger:  ledger,
		repo:    repo,
		control: control,
		chain:   chain,
		alice:   createUser(t, db, "0xAlice"),
	}
}

func (h *indexerHarness) cycle(t *testing.T) {
	t.Helper()
	if err := h.indexer.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
}

func (h *indexerHarness) deposit(t *testing.T, txHash string) *models.DepositRecord {
	t.Helper()
	dep, err := h.repo.GetDeposit(context.Background(), txHash)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if dep == nil {
		t.Fatalf("deposit %s not recorded", txHash)
	}
	return dep
}

func transfer(tx string, height uint64, from string, amount int64) blockchain.Transfer {
	return blockchain.Transfer{
		TxHash:      tx,
		BlockHeight: height,
		BlockHash:   "0xblock" + tx,
		From:        from,
		To:          "0xcustody",
		Amount:      amount,
	}
}

func TestIndexerCreditsExactlyOnce(t *testing.T) {
	h := newIndexerHarness(t)
	ctx := context.Background()
	h.chain.add(transfer("0xd1", 60, "0xalice", 250))

	h.cycle(t)
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 250, 0)

	if err := h.indexer.Reprocess(ctx, 50, 98); err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	// a lost cursor rescans from the start block
	if err := h.repo.DB().Where("1 = 1").Delete(&models.IndexerCursor{}).Error; err != nil {
		t.Fatal(err)
	}
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 250, 0)

	dep := h.deposit(t, "0xd1")
	if !dep.Credited || dep.Status != models.DepositCredited || dep.CreditedAt == nil {
		t.Errorf("expected credited deposit, got %+v", dep)
	}
	assertLedgerConsistent(t, h.ledger)
}

func TestIndexerWaitsForConfirmations(t *testing.T) {
	h := newIndexerHarness(t)
	h.chain.add(transfer("0xd1", 99, "0xalice", 40))

	// head 100 with 3 confirmations makes 98 the highest safe block
	h.cycle(t)
	dep, err := h.repo.GetDeposit(context.Background(), "0xd1")
	if err != nil {
		t.Fatal(err)
	}
	if dep != nil {
		t.Fatalf("unconfirmed deposit recorded: %+v", dep)
	}
	assertBalances(t, h.ledger, h.alice, 0, 0)

	h.chain.setHead(101)
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 40, 0)

	cursor, found, err := h.repo.GetCursor(context.Background(), "deposits:evm")
	if err != nil || !found || cursor != 99 {
		t.Errorf("expected cursor 99, got %d (found %v, err %v)", cursor, found, err)
	}
}

func TestIndexerOrphansUncreditedDepositOnReorg(t *testing.T) {
	h := newIndexerHarness(t)
	ctx := context.Background()

	if _, err := h.control.SetSwitch(ctx, models.SwitchPauseDeposits, true, "ops", "maintenance"); err != nil {
		t.Fatal(err)
	}
	h.chain.add(transfer("0xd1", 95, "0xalice", 70))
	h.cycle(t)
	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositPending || dep.Credited {
		t.Fatalf("expected pending deposit while paused, got %+v", dep)
	}

	h.chain.drop("0xd1")
	h.chain.setHead(102)
	h.cycle(t)
	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositOrphaned {
		t.Fatalf("expected orphaned deposit, got %s", dep.Status)
	}
	incidents, err := h.control.ListIncidents(ctx, models.IncidentOpen, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 || incidents[0].Kind != models.IncidentChainReorg {
		t.Fatalf("expected one chain_reorg incident, got %+v", incidents)
	}
	if _, err := h.control.SetSwitch(ctx, models.SwitchPauseDeposits, false, "ops", "done"); !errors.Is(err, ErrIncidentOpen) {
		t.Errorf("expected ErrIncidentOpen, got %v", err)
	}

	// the transfer lands again in a later block
	moved := transfer("0xd1", 101, "0xalice", 70)
	moved.BlockHash = "0xnewblock"
	h.chain.add(moved)
	h.chain.setHead(105)
	h.cycle(t)
	dep := h.deposit(t, "0xd1")
	if dep.Status != models.DepositPending || dep.BlockHeight != 101 || dep.BlockHash != "0xnewblock" {
		t.Fatalf("expected re-homed pending deposit, got %+v", dep)
	}
	assertBalances(t, h.ledger, h.alice, 0, 0)

	if _, err := h.control.ResolveIncident(ctx, incidents[0].ID, "ops", "transfer re-included"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.control.SetSwitch(ctx, models.SwitchPauseDeposits, false, "ops", "resume"); err != nil {
		t.Fatalf("SetSwitch failed: %v", err)
	}
	h.cycle(t)
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 70, 0)
}

func TestIndexerNeverReversesCreditedDeposit(t *testing.T) {
	h := newIndexerHarness(t)
	ctx := context.Background()

	h.chain.add(transfer("0xd1", 90, "0xalice", 500))
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 500, 0)

	h.chain.drop("0xd1")
	h.chain.setHead(103)
	h.cycle(t)

	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositInvalidated || !dep.Credited {
		t.Errorf("expected invalidated credited deposit, got %+v", dep)
	}
	assertBalances(t, h.ledger, h.alice, 500, 0)

	incidents, err := h.control.ListIncidents(ctx, models.IncidentOpen, 10)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[models.IncidentKind]bool{}
	for _, inc := range incidents {
		kinds[inc.Kind] = true
	}
	if !kinds[models.IncidentChainReorg] || !kinds[models.IncidentLedgerReconciliation] {
		t.Errorf("expected chain_reorg and ledger_reconciliation incidents, got %+v", incidents)
	}
	for _, sw := range []string{models.SwitchPauseDeposits, models.SwitchPauseBets, models.SwitchPauseWithdrawals} {
		if !h.control.IsPaused(sw) {
			t.Errorf("expected %s engaged", sw)
		}
	}
}

func TestIndexerRetriesReorgUntilIncidentIsRaised(t *testing.T) {
	h := newIndexerHarness(t)
	ctx := context.Background()
	flaky := &flakyControls{ControlService: h.control}
	h.indexer.control = flaky

	h.chain.add(transfer("0xd1", 90, "0xalice", 500))
	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 500, 0)

	h.chain.drop("0xd1")
	h.chain.setHead(103)
	flaky.failing.Store(true)
	if err := h.indexer.RunCycle(ctx); err == nil {
		t.Fatal("expected the cycle to fail while incidents cannot be raised")
	}
	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositCredited {
		t.Fatalf("deposit left the rescan set without an incident: %s", dep.Status)
	}

	flaky.failing.Store(false)
	h.cycle(t)
	h.cycle(t)

	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositInvalidated || !dep.Credited {
		t.Errorf("expected invalidated credited deposit, got %+v", dep)
	}
	incidents, err := h.control.ListIncidents(ctx, models.IncidentOpen, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 2 {
		t.Errorf("expected chain_reorg and ledger_reconciliation incidents, got %+v", incidents)
	}
	for _, sw := range []string{models.SwitchPauseDeposits, models.SwitchPauseBets, models.SwitchPauseWithdrawals} {
		if !h.control.IsPaused(sw) {
			t.Errorf("expected %s engaged", sw)
		}
	}
}

func TestIndexerAssignsUnattributedDeposit(t *testing.T) {
	h := newIndexerHarness(t)
	ctx := context.Background()

	h.chain.add(transfer("0xd1", 80, "0xstranger", 90))
	h.cycle(t)
	if dep := h.deposit(t, "0xd1"); dep.Status != models.DepositUnattributed || dep.UserID != nil {
		t.Fatalf("expected unattributed deposit, got %+v", dep)
	}

	dep, err := h.indexer.AssignDeposit(ctx, "0xd1", h.alice)
	if err != nil {
		t.Fatalf("AssignDeposit failed: %v", err)
	}
	if dep.Status != models.DepositPending || dep.UserID == nil || *dep.UserID != h.alice {
		t.Errorf("unexpected assigned deposit %+v", dep)
	}
	if _, err := h.indexer.AssignDeposit(ctx, "0xd1", h.alice); !errors.Is(err, ErrDepositState) {
		t.Errorf("expected ErrDepositState on second assignment, got %v", err)
	}
	if _, err := h.indexer.AssignDeposit(ctx, "0xmissing", h.alice); !errors.Is(err, ErrDepositNotFound) {
		t.Errorf("expected ErrDepositNotFound, got %v", err)
	}

	h.cycle(t)
	assertBalances(t, h.ledger, h.alice, 90, 0)
}

func TestIndexerRejectsUnconfirmedReprocess(t *testing.T) {
	h := newIndexerHarness(t)
	if err := h.indexer.Reprocess(context.Background(), 99, 120); err == nil {
		t.Error("expected error for a range beyond the safe height")
	}
	if err := h.indexer.Reprocess(context.Background(), 80, 70); err == nil {
		t.Error("expected error for an inverted range")
	}
}
