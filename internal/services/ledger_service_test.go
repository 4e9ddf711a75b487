package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"crash-game/internal/models"
	"crash-game/internal/testutil"

	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (*LedgerService, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	ledger := NewLedgerService(db)
	if _, err := ledger.EnsureHouse(context.Background()); err != nil {
		t.Fatalf("EnsureHouse failed: %v", err)
	}
	return ledger, db
}

func createUser(t *testing.T, db *gorm.DB, wallet string) uint {
	t.Helper()
	user := models.User{WalletAddress: wallet, Chain: models.ChainEVM, Nickname: "nick_" + wallet}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user.ID
}

func fundUser(t *testing.T, ledger *LedgerService, userID uint, amount int64) {
	t.Helper()
	if _, err := ledger.Credit(context.Background(), userID, amount, models.OpDeposit, fmt.Sprintf("deposit:seed-%d", userID)); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
}

func assertBalances(t *testing.T, ledger *LedgerService, userID uint, available, locked int64) {
	t.Helper()
	acct, err := ledger.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Available != available || acct.Locked != locked {
		t.Errorf("expected %d/%d, got %d/%d", available, locked, acct.Available, acct.Locked)
	}
}

func assertLedgerConsistent(t *testing.T, ledger *LedgerService) {
	t.Helper()
	checks, err := ledger.CheckAllAccounts(context.Background())
	if err != nil {
		t.Fatalf("CheckAllAccounts failed: %v", err)
	}
	for _, c := range checks {
		if !c.OK() {
			t.Errorf("account %d inconsistent: %+v", c.UserID, c)
		}
	}
}

func TestCreditIsIdempotent(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xaaa")

	first, err := ledger.Credit(ctx, user, 100, models.OpDeposit, "deposit:0x1")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if first.Duplicate {
		t.Error("first credit marked duplicate")
	}

	second, err := ledger.Credit(ctx, user, 100, models.OpDeposit, "deposit:0x1")
	if err != nil {
		t.Fatalf("replayed Credit failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("expected replay to be marked duplicate")
	}
	if second.Entry.EntryID != first.Entry.EntryID || second.Account != first.Account {
		t.Errorf("replay returned a different result: %+v vs %+v", second, first)
	}

	assertBalances(t, ledger, user, 100, 0)

	if _, err := ledger.Credit(ctx, user, 50, models.OpAdjustment, "deposit:0x1"); !errors.Is(err, ErrRefIDConflict) {
		t.Errorf("expected ErrRefIDConflict, got %v", err)
	}
	if _, err := ledger.Credit(ctx, user, 0, models.OpDeposit, "deposit:0x2"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// A: deposit 100, bet 60, crash before cash-out
func TestCrashLossScenario(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xa")
	fundUser(t, ledger, user, 100)

	res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "round-a", Amount: 60, RefID: "bet:a"})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if res.Account.Available != 40 || res.Account.Locked != 60 {
		t.Errorf("expected 40/60 after bet, got %+v", res.Account)
	}

	settled, err := ledger.SettleBet(ctx, SettleParams{BetID: res.Bet.ID, Payout: 0, RefID: "settle:" + res.Bet.ID})
	if err != nil {
		t.Fatalf("SettleBet failed: %v", err)
	}
	if settled.Bet.Status != models.BetStatusLost {
		t.Errorf("expected lost bet, got %s", settled.Bet.Status)
	}

	assertBalances(t, ledger, user, 40, 0)
	assertBalances(t, ledger, ledger.HouseUserID(), 60, 0)
	assertLedgerConsistent(t, ledger)
}

// B: deposit 100, bet 60, cash out at 1.80x
func TestCashOutScenario(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xb")
	fundUser(t, ledger, user, 100)

	res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "round-b", Amount: 60, RefID: "bet:b"})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	mult := int64(180)
	payout := res.Bet.Amount * mult / 100
	if payout != 108 {
		t.Fatalf("expected payout 108, got %d", payout)
	}
	settled, err := ledger.SettleBet(ctx, SettleParams{BetID: res.Bet.ID, Payout: payout, CashoutMultiplier: &mult, RefID: "cashout:" + res.Bet.ID})
	if err != nil {
		t.Fatalf("SettleBet failed: %v", err)
	}
	if settled.Bet.Status != models.BetStatusCashedOut || *settled.Bet.PayoutAmount != 108 || *settled.Bet.CashoutMultiplier != 180 {
		t.Errorf("unexpected settled bet %+v", settled.Bet)
	}

	assertBalances(t, ledger, user, 148, 0)
	assertBalances(t, ledger, ledger.HouseUserID(), -48, 0)
	assertLedgerConsistent(t, ledger)

	// the loss path must not run after a cash-out
	if _, err := ledger.SettleBet(ctx, SettleParams{BetID: res.Bet.ID, RefID: "settle:" + res.Bet.ID}); !errors.Is(err, ErrDuplicateOperation) {
		t.Errorf("expected ErrDuplicateOperation, got %v", err)
	}
	// the same cash-out replays
	again, err := ledger.SettleBet(ctx, SettleParams{BetID: res.Bet.ID, Payout: payout, CashoutMultiplier: &mult, RefID: "cashout:" + res.Bet.ID})
	if err != nil || !again.Duplicate {
		t.Errorf("expected duplicate replay, got %+v, %v", again, err)
	}
	assertBalances(t, ledger, user, 148, 0)
}

// D: the same bet submitted twice concurrently produces one entry
func TestConcurrentDuplicateBet(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xd")
	fundUser(t, ledger, user, 100)

	var wg sync.WaitGroup
	results := make([]*BetResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "round-d", Amount: 60, RefID: "bet:d"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if results[0].Bet.ID != results[1].Bet.ID {
		t.Errorf("expected the same bet, got %s and %s", results[0].Bet.ID, results[1].Bet.ID)
	}
	if results[0].Duplicate == results[1].Duplicate {
		t.Error("expected exactly one call to be marked duplicate")
	}

	var entries int64
	db.Model(&models.LedgerEntry{}).Where("ref_id = ?", "bet:d").Count(&entries)
	if entries != 1 {
		t.Errorf("expected 1 bet entry, got %d", entries)
	}
	assertBalances(t, ledger, user, 40, 60)
}

func TestOneBetPerRound(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xone")
	fundUser(t, ledger, user, 100)

	if _, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 10, RefID: "bet:1"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if _, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 10, RefID: "bet:2"}); !errors.Is(err, ErrBetExists) {
		t.Errorf("expected ErrBetExists, got %v", err)
	}
	assertBalances(t, ledger, user, 90, 10)
}

func TestPlaceBetExpectedVersion(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xver")
	fundUser(t, ledger, user, 100)

	stale := int64(0)
	if _, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 10, RefID: "bet:v0", ExpectedVersion: &stale}); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if !IsRetryable(ErrVersionConflict) {
		t.Error("version conflicts must be retryable")
	}

	current := int64(1)
	res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 10, RefID: "bet:v1", ExpectedVersion: &current})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if res.Account.Version != 2 {
		t.Errorf("expected version 2, got %d", res.Account.Version)
	}
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xpoor")
	fundUser(t, ledger, user, 50)

	if _, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 51, RefID: "bet:x"}); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	var bets int64
	db.Model(&models.Bet{}).Count(&bets)
	if bets != 0 {
		t.Errorf("expected no bet rows, got %d", bets)
	}
	assertBalances(t, ledger, user, 50, 0)
}

func TestConcurrentBetsNeverOverdraw(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xrace")
	fundUser(t, ledger, user, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.PlaceBet(ctx, PlaceBetParams{
				UserID:  user,
				RoundID: fmt.Sprintf("round-%d", i),
				Amount:  30,
				RefID:   fmt.Sprintf("bet:%d", i),
			})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted != 3 {
		t.Errorf("expected 3 admitted bets, got %d", admitted)
	}
	assertBalances(t, ledger, user, 10, 90)
	assertLedgerConsistent(t, ledger)
}

func TestRefundBet(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xc")
	fundUser(t, ledger, user, 100)

	res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "r", Amount: 100, RefID: "bet:c"})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	refund, err := ledger.RefundBet(ctx, res.Bet.ID, "refund:"+res.Bet.ID)
	if err != nil {
		t.Fatalf("RefundBet failed: %v", err)
	}
	if refund.Bet.Status != models.BetStatusRefunded {
		t.Errorf("expected refunded, got %s", refund.Bet.Status)
	}
	if again, err := ledger.RefundBet(ctx, res.Bet.ID, "refund:"+res.Bet.ID); err != nil || !again.Duplicate {
		t.Errorf("expected duplicate refund replay, got %+v, %v", again, err)
	}
	assertBalances(t, ledger, user, 100, 0)
	assertLedgerConsistent(t, ledger)
}

func TestWithdrawalAndReversal(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xw")
	fundUser(t, ledger, user, 100)

	res, err := ledger.RequestWithdrawal(ctx, user, 70, "0xdest", "wd:1")
	if err != nil {
		t.Fatalf("RequestWithdrawal failed: %v", err)
	}
	if res.Withdrawal.Status != models.WithdrawalPending {
		t.Errorf("expected pending, got %s", res.Withdrawal.Status)
	}
	assertBalances(t, ledger, user, 30, 0)

	inflight, _ := ledger.InFlightWithdrawals(ctx)
	if inflight != 70 {
		t.Errorf("expected 70 in flight, got %d", inflight)
	}

	if _, err := ledger.RequestWithdrawal(ctx, user, 70, "0xdest", "wd:2"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	rev, err := ledger.ReverseWithdrawal(ctx, "wd:1", "payment rejected")
	if err != nil {
		t.Fatalf("ReverseWithdrawal failed: %v", err)
	}
	if rev.Entry.RelatedRefID != "wd:1" || rev.Entry.OpType != models.OpAdjustment {
		t.Errorf("unexpected reversal entry %+v", rev.Entry)
	}
	again, err := ledger.ReverseWithdrawal(ctx, "wd:1", "payment rejected")
	if err != nil || !again.Duplicate {
		t.Errorf("expected duplicate reversal, got %+v, %v", again, err)
	}
	assertBalances(t, ledger, user, 100, 0)

	w, _ := ledger.GetWithdrawal(ctx, "wd:1")
	if w.Status != models.WithdrawalFailed || !w.Reversed {
		t.Errorf("expected failed reversed withdrawal, got %+v", w)
	}
	if _, err := ledger.CompleteWithdrawal(ctx, "wd:1", "0xhash"); !errors.Is(err, ErrWithdrawalState) {
		t.Errorf("expected ErrWithdrawalState, got %v", err)
	}
	assertLedgerConsistent(t, ledger)
}

func TestCompletedWithdrawalCannotBeReversed(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	user := createUser(t, db, "0xsent")
	fundUser(t, ledger, user, 100)

	if _, err := ledger.RequestWithdrawal(ctx, user, 40, "0xdest", "wd:s"); err != nil {
		t.Fatalf("RequestWithdrawal failed: %v", err)
	}
	if ok, err := ledger.MarkWithdrawalProcessing(ctx, "wd:s"); err != nil || !ok {
		t.Fatalf("MarkWithdrawalProcessing = %v, %v", ok, err)
	}
	if ok, _ := ledger.MarkWithdrawalProcessing(ctx, "wd:s"); ok {
		t.Error("second claim should fail")
	}
	if _, err := ledger.CompleteWithdrawal(ctx, "wd:s", "0xtx"); err != nil {
		t.Fatalf("CompleteWithdrawal failed: %v", err)
	}
	if _, err := ledger.CompleteWithdrawal(ctx, "wd:s", "0xtx"); err != nil {
		t.Errorf("repeated completion should be a no-op, got %v", err)
	}
	if _, err := ledger.ReverseWithdrawal(ctx, "wd:s", "late failure"); !errors.Is(err, ErrWithdrawalState) {
		t.Errorf("expected ErrWithdrawalState, got %v", err)
	}
	assertBalances(t, ledger, user, 60, 0)
}

func TestLedgerInvariantUnderRandomOperations(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	users := []uint{createUser(t, db, "0x1"), createUser(t, db, "0x2"), createUser(t, db, "0x3")}
	var activeBets []string

	for i := 0; i < 400; i++ {
		user := users[rng.Intn(len(users))]
		ref := fmt.Sprintf("op:%d", i)
		switch rng.Intn(6) {
		case 0:
			_, _ = ledger.Credit(ctx, user, int64(rng.Intn(500)+1), models.OpDeposit, ref)
		case 1:
			res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: fmt.Sprintf("r%d", i), Amount: int64(rng.Intn(200) + 1), RefID: ref})
			if err == nil {
				activeBets = append(activeBets, res.Bet.ID)
			}
		case 2, 3:
			if len(activeBets) == 0 {
				continue
			}
			idx := rng.Intn(len(activeBets))
			betID := activeBets[idx]
			activeBets = append(activeBets[:idx], activeBets[idx+1:]...)
			var bet models.Bet
			db.Where("id = ?", betID).First(&bet)
			mult := int64(100 + rng.Intn(500))
			payout := int64(0)
			if rng.Intn(2) == 0 {
				payout = bet.Amount * mult / 100
			}
			_, _ = ledger.SettleBet(ctx, SettleParams{BetID: betID, Payout: payout, CashoutMultiplier: &mult, RefID: ref})
		case 4:
			_, _ = ledger.RequestWithdrawal(ctx, user, int64(rng.Intn(100)+1), "0xdest", ref)
		case 5:
			// replay an earlier ref; must be a no-op or a conflict
			if i > 0 {
				_, _ = ledger.Credit(ctx, user, 1, models.OpDeposit, fmt.Sprintf("op:%d", rng.Intn(i)))
			}
		}
	}

	assertLedgerConsistent(t, ledger)
	for _, u := range users {
		acct, _ := ledger.GetAccount(ctx, u)
		if acct != nil && (acct.Available < 0 || acct.Locked < 0) {
			t.Errorf("user %d has negative balance %+v", u, acct)
		}
	}
}

func BenchmarkPlaceAndSettle(b *testing.B) {
	db := testutil.NewDB(b)
	ledger := NewLedgerService(db)
	ctx := context.Background()
	if _, err := ledger.EnsureHouse(ctx); err != nil {
		b.Fatal(err)
	}
	user := models.User{WalletAddress: "0xbench", Nickname: "bench"}
	db.Create(&user)
	if _, err := ledger.Credit(ctx, user.ID, int64(b.N)*10+10, models.OpDeposit, "deposit:bench"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: user.ID, RoundID: fmt.Sprintf("r%d", i), Amount: 10, RefID: fmt.Sprintf("bet:%d", i)})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := ledger.SettleBet(ctx, SettleParams{BetID: res.Bet.ID, RefID: fmt.Sprintf("settle:%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
}

func TestClientRefIDsCannotTakeServerKeys(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	alice := createUser(t, db, "0xalice")
	mallory := createUser(t, db, "0xmallory")
	fundUser(t, ledger, alice, 100)
	fundUser(t, ledger, mallory, 100)

	placed, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: alice, RoundID: "round-r", Amount: 60, RefID: "bet:alice"})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	pendingDeposit := (&models.DepositRecord{TxHash: "0xfeed"}).LedgerRefID()
	reversal := (&models.Withdrawal{RefID: "wd:alice"}).ReversalRefID()

	keys := []string{
		models.SettleRefID(placed.Bet.ID),
		models.CashoutRefID(placed.Bet.ID),
		models.RefundRefID(placed.Bet.ID),
		pendingDeposit,
		reversal,
	}
	for i, key := range keys {
		if _, err := ledger.PlaceBet(ctx, PlaceBetParams{UserID: mallory, RoundID: fmt.Sprintf("round-m%d", i), Amount: 1, RefID: key}); !errors.Is(err, ErrReservedRefID) {
			t.Errorf("PlaceBet %q: expected ErrReservedRefID, got %v", key, err)
		}
		if _, err := ledger.RequestWithdrawal(ctx, mallory, 1, "0xdest", key); !errors.Is(err, ErrReservedRefID) {
			t.Errorf("RequestWithdrawal %q: expected ErrReservedRefID, got %v", key, err)
		}
		if _, err := ledger.Adjust(ctx, mallory, 1, key, "squat"); !errors.Is(err, ErrReservedRefID) {
			t.Errorf("Adjust %q: expected ErrReservedRefID, got %v", key, err)
		}
	}
	assertBalances(t, ledger, mallory, 100, 0)

	if _, err := ledger.SettleBet(ctx, SettleParams{BetID: placed.Bet.ID, RefID: models.SettleRefID(placed.Bet.ID)}); err != nil {
		t.Fatalf("SettleBet failed: %v", err)
	}
	if _, err := ledger.Credit(ctx, alice, 500, models.OpDeposit, pendingDeposit); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	assertBalances(t, ledger, alice, 540, 0)
	assertLedgerConsistent(t, ledger)
}
