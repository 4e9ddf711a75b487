package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crash-game/internal/config"
	"crash-game/internal/fairness"
	"crash-game/internal/models"
	"crash-game/internal/realtime"
	"crash-game/internal/repository"

	"gorm.io/gorm"
)

// stubVault commits to a fixed seed and reports a chosen crash point
type stubVault struct {
	mu      sync.Mutex
	crash   fairness.Multiplier
	hang    bool
	release chan struct{}
	seeds   map[string]string
}

func newStubVault(t *testing.T, crash fairness.Multiplier) *stubVault {
	v := &stubVault{crash: crash, release: make(chan struct{}), seeds: make(map[string]string)}
	t.Cleanup(func() { close(v.release) })
	return v
}

func (v *stubVault) HouseEdgeBps() int64 { return fairness.DefaultHouseEdgeBps }

func (v *stubVault) Commit(roundID string, nonce uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	seed := strings.Repeat("ab", fairness.SeedBytes)
	v.seeds[roundID] = seed
	return fairness.CommitHash(seed, roundID, nonce)
}

func (v *stubVault) CrashPoint(roundID string) (fairness.Multiplier, error) {
	return v.crash, nil
}

func (v *stubVault) Reveal(roundID string) (string, fairness.Multiplier, error) {
	if v.hang {
		<-v.release
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seeds[roundID], v.crash, nil
}

func (v *stubVault) Forget(roundID string) {
	v.mu.Lock()
	delete(v.seeds, roundID)
	v.mu.Unlock()
}

type engineHarness struct {
	engine  *RoundEngine
	ledger  *LedgerService
	db      *gorm.DB
	repo    *repository.Repository
	control *ControlService
	events  *realtime.Subscription
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		BettingWindow:   500 * time.Millisecond,
		Cooldown:        50 * time.Millisecond,
		TickInterval:    5 * time.Millisecond,
		GrowthRatePerMs: 0.002,
		HouseEdgeBps:    fairness.DefaultHouseEdgeBps,
		RevealTimeout:   100 * time.Millisecond,
		LedgerTimeout:   2 * time.Second,
		SettleRetries:   2,
		SettleBackoff:   5 * time.Millisecond,
		MinBet:          1,
		MaxBet:          1_000_000,
		PausePoll:       10 * time.Millisecond,
	}
}

func newEngineHarness(t *testing.T, vault SeedVault) *engineHarness {
	t.Helper()
	ledger, db := newTestLedger(t)
	broadcaster := realtime.NewBroadcaster(8192, 8192)
	control := NewControlService(db, broadcaster)
	if err := control.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	repo := repository.NewRepository(db)

	sub, _, err := broadcaster.SubscribeWithSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Close)

	return &engineHarness{
		engine:  NewRoundEngine(testGameConfig(), repo, ledger, vault, broadcaster, control),
		ledger:  ledger,
		db:      db,
		repo:    repo,
		control: control,
		events:  sub,
	}
}

func (h *engineHarness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor[T realtime.Payload](t *testing.T, sub *realtime.Subscription) T {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if p, ok := ev.Payload.(T); ok {
				return p
			}
		case <-sub.Done():
			t.Fatalf("subscription ended: %v", sub.Err())
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.EventType())
		}
	}
}

func bet(t *testing.T, e *RoundEngine, req BetRequest) (*BetResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.PlaceBet(ctx, req)
}

// A through the engine: the round crashes before any cash-out
func TestEngineCrashLoss(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 150))
	user := createUser(t, h.db, "0xa")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	committed := waitFor[realtime.RoundCommitted](t, h.events)
	waitFor[realtime.BettingOpened](t, h.events)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 60, RefID: "bet:a"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	assertBalances(t, h.ledger, user, 40, 60)

	crashed := waitFor[realtime.RoundCrashed](t, h.events)
	if crashed.CrashMultiplier != 150 {
		t.Errorf("expected crash at 150, got %d", crashed.CrashMultiplier)
	}
	revealed := waitFor[realtime.SeedRevealed](t, h.events)
	if commit, _ := fairness.CommitHash(revealed.ServerSeed, committed.RoundID, committed.Nonce); commit != committed.CommitHash {
		t.Error("revealed seed does not match the published commitment")
	}
	settled := waitFor[realtime.RoundSettled](t, h.events)
	if settled.Lost != 1 || settled.WithErrors {
		t.Errorf("unexpected settlement %+v", settled)
	}

	assertBalances(t, h.ledger, user, 40, 0)
	assertLedgerConsistent(t, h.ledger)

	round, err := h.repo.GetRound(context.Background(), committed.RoundID)
	if err != nil {
		t.Fatal(err)
	}
	if round.Status != models.RoundStatusSettled || !round.Revealed() {
		t.Errorf("unexpected round after settlement: %s revealed=%v", round.Status, round.Revealed())
	}
}

// B through the engine: an auto cash-out at 1.80x pays 108
func TestEngineAutoCashOut(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 1000))
	user := createUser(t, h.db, "0xb")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	waitFor[realtime.BettingOpened](t, h.events)
	auto := int64(180)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 60, AutoCashout: &auto, RefID: "bet:b"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	cashed := waitFor[realtime.BetCashedOut](t, h.events)
	if !cashed.Auto || cashed.Multiplier != 180 || cashed.Payout != 108 {
		t.Errorf("unexpected cash-out %+v", cashed)
	}
	settled := waitFor[realtime.RoundSettled](t, h.events)
	if settled.Lost != 0 {
		t.Errorf("expected no losses, got %d", settled.Lost)
	}

	assertBalances(t, h.ledger, user, 148, 0)
	assertLedgerConsistent(t, h.ledger)
}

// C: the seed cannot be revealed in time, so the round is voided and refunded
func TestEngineRevealTimeoutVoidsRound(t *testing.T) {
	vault := newStubVault(t, 300)
	vault.hang = true
	h := newEngineHarness(t, vault)
	user := createUser(t, h.db, "0xc")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	committed := waitFor[realtime.RoundCommitted](t, h.events)
	waitFor[realtime.BettingOpened](t, h.events)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 100, RefID: "bet:c"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	assertBalances(t, h.ledger, user, 0, 100)

	voided := waitFor[realtime.RoundVoided](t, h.events)
	if voided.RoundID != committed.RoundID || voided.Refunded != 1 {
		t.Errorf("unexpected void %+v", voided)
	}
	if !strings.Contains(voided.Reason, ErrFairnessRevealTimeout.Error()) {
		t.Errorf("unexpected void reason %q", voided.Reason)
	}

	assertBalances(t, h.ledger, user, 100, 0)
	assertLedgerConsistent(t, h.ledger)

	round, _ := h.repo.GetRound(context.Background(), committed.RoundID)
	if round.Status != models.RoundStatusVoided || round.Revealed() {
		t.Errorf("unexpected round after void: %s", round.Status)
	}
}

func TestEngineManualCashOut(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 100000))
	alice := createUser(t, h.db, "0xalice")
	bob := createUser(t, h.db, "0xbob")
	fundUser(t, h.ledger, alice, 100)
	h.start(t)

	waitFor[realtime.BettingOpened](t, h.events)
	placed, err := bet(t, h.engine, BetRequest{UserID: alice, Amount: 50, RefID: "bet:alice"})
	if err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	if _, err := h.engine.CashOut(context.Background(), alice, placed.Bet.ID); !errors.Is(err, ErrRoundStateViolation) {
		t.Errorf("expected ErrRoundStateViolation before start, got %v", err)
	}

	waitFor[realtime.RoundStarted](t, h.events)
	time.Sleep(100 * time.Millisecond)

	if _, err := h.engine.CashOut(context.Background(), bob, placed.Bet.ID); !errors.Is(err, ErrBetNotFound) {
		t.Errorf("expected ErrBetNotFound for another user's bet, got %v", err)
	}

	res, err := h.engine.CashOut(context.Background(), alice, placed.Bet.ID)
	if err != nil {
		t.Fatalf("CashOut failed: %v", err)
	}
	if res.Multiplier < 100 || res.Multiplier >= 100000 || res.Pending {
		t.Errorf("unexpected cash-out %+v", res)
	}
	if want, _ := payoutFor(50, res.Multiplier); res.Payout != want {
		t.Errorf("expected payout %d, got %d", want, res.Payout)
	}

	again, err := h.engine.CashOut(context.Background(), alice, placed.Bet.ID)
	if err != nil || !again.Duplicate || again.Payout != res.Payout {
		t.Errorf("expected duplicate cash-out with same payout, got %+v %v", again, err)
	}

	if _, err := bet(t, h.engine, BetRequest{UserID: bob, Amount: 1, RefID: "bet:late"}); !errors.Is(err, ErrRoundStateViolation) {
		t.Errorf("expected late bet to be rejected, got %v", err)
	}

	assertBalances(t, h.ledger, alice, 50+res.Payout, 0)
	assertLedgerConsistent(t, h.ledger)
}

func TestEngineInstantCrash(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 100))
	user := createUser(t, h.db, "0xd")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	waitFor[realtime.BettingOpened](t, h.events)
	auto := int64(101)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 30, AutoCashout: &auto, RefID: "bet:d"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	settled := waitFor[realtime.RoundSettled](t, h.events)
	if settled.Lost != 1 {
		t.Errorf("expected the bet to lose at 1.00x, got %+v", settled)
	}
	assertBalances(t, h.ledger, user, 70, 0)
}

func TestEngineRejectsInvalidBets(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 200))
	user := createUser(t, h.db, "0xe")
	fundUser(t, h.ledger, user, 10)
	h.start(t)

	waitFor[realtime.BettingOpened](t, h.events)
	low := int64(100)
	cases := []struct {
		name string
		req  BetRequest
		want error
	}{
		{"zero stake", BetRequest{UserID: user, Amount: 0, RefID: "bet:1"}, ErrInvalidAmount},
		{"auto at 1.00x", BetRequest{UserID: user, Amount: 1, AutoCashout: &low, RefID: "bet:2"}, ErrInvalidAutoCashout},
		{"over balance", BetRequest{UserID: user, Amount: 11, RefID: "bet:3"}, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := bet(t, h.engine, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 5, RefID: "bet:4"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 5, RefID: "bet:5"}); !errors.Is(err, ErrBetExists) {
		t.Errorf("expected ErrBetExists for a second bet, got %v", err)
	}
	replay, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 5, RefID: "bet:4"})
	if err != nil || !replay.Duplicate {
		t.Errorf("expected replayed bet to be a duplicate, got %+v %v", replay, err)
	}
	assertBalances(t, h.ledger, user, 5, 5)
}

func TestEnginePausedBets(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 200))
	user := createUser(t, h.db, "0xf")
	fundUser(t, h.ledger, user, 10)
	if _, err := h.control.SetSwitch(context.Background(), models.SwitchPauseBets, true, "test", "maintenance"); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	opened := waitFor[realtime.BettingOpened](t, h.events)
	if !opened.BetsPaused {
		t.Error("expected betting window to open paused")
	}
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 5, RefID: "bet:p"}); !errors.Is(err, ErrOperationPaused) {
		t.Errorf("expected ErrOperationPaused, got %v", err)
	}
	assertBalances(t, h.ledger, user, 10, 0)
}

func TestEngineEngineBusyWhenNotRunning(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 200))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.engine.PlaceBet(ctx, BetRequest{UserID: 1, Amount: 1, RefID: "x"}); !errors.Is(err, ErrEngineBusy) {
		t.Errorf("expected ErrEngineBusy, got %v", err)
	}
	if !IsRetryable(ErrEngineBusy) {
		t.Error("ErrEngineBusy should be retryable")
	}
}

func TestRecoverVoidsAndSettlesUnfinishedRounds(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 200))
	ctx := context.Background()
	alice := createUser(t, h.db, "0xr1")
	bob := createUser(t, h.db, "0xr2")
	carol := createUser(t, h.db, "0xr3")
	for _, u := range []uint{alice, bob, carol} {
		fundUser(t, h.ledger, u, 100)
	}

	running := &models.Round{ID: "round-running", Nonce: 1, Status: models.RoundStatusRunning, CommitHash: "c1", HouseEdgeBps: 100}
	seed := strings.Repeat("ab", fairness.SeedBytes)
	crash := int64(250)
	crashed := &models.Round{
		ID: "round-crashed", Nonce: 2, Status: models.RoundStatusCrashed, CommitHash: "c2",
		HouseEdgeBps: 100, ServerSeed: &seed, CrashMultiplier: &crash,
	}
	for _, r := range []*models.Round{running, crashed} {
		if err := h.repo.CreateRound(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := h.ledger.PlaceBet(ctx, PlaceBetParams{UserID: alice, RoundID: running.ID, Amount: 100, RefID: "bet:r1"})
	b, _ := h.ledger.PlaceBet(ctx, PlaceBetParams{UserID: bob, RoundID: running.ID, Amount: 50, RefID: "bet:r2"})
	if _, err := h.ledger.PlaceBet(ctx, PlaceBetParams{UserID: carol, RoundID: crashed.ID, Amount: 40, RefID: "bet:r3"}); err != nil {
		t.Fatal(err)
	}
	if a == nil || b == nil {
		t.Fatal("failed to place bets")
	}
	// bob's cash-out at 2.00x was decided but never written to the ledger
	if err := h.repo.RecordCashout(ctx, b.Bet.ID, 200); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	assertBalances(t, h.ledger, alice, 100, 0)
	assertBalances(t, h.ledger, bob, 150, 0)
	assertBalances(t, h.ledger, carol, 60, 0)
	assertLedgerConsistent(t, h.ledger)

	gotRunning, _ := h.repo.GetRound(ctx, running.ID)
	gotCrashed, _ := h.repo.GetRound(ctx, crashed.ID)
	if gotRunning.Status != models.RoundStatusVoided {
		t.Errorf("expected running round voided, got %s", gotRunning.Status)
	}
	if gotCrashed.Status != models.RoundStatusSettled {
		t.Errorf("expected revealed crashed round settled, got %s", gotCrashed.Status)
	}

	left, err := h.repo.ListUnfinishedRounds(ctx)
	if err != nil || len(left) != 0 {
		t.Errorf("expected no unfinished rounds, got %d (%v)", len(left), err)
	}
}

// brokenSettlement places bets on the real ledger but cannot settle them
type brokenSettlement struct {
	*LedgerService
}

func (brokenSettlement) SettleBet(ctx context.Context, p SettleParams) (*BetResult, error) {
	return nil, errors.New("ledger unavailable")
}

func TestEngineSettlementFailureRaisesIncident(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 150))
	h.engine.ledger = brokenSettlement{h.ledger}
	user := createUser(t, h.db, "0xs")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	committed := waitFor[realtime.RoundCommitted](t, h.events)
	waitFor[realtime.BettingOpened](t, h.events)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 60, RefID: "bet:s"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	settled := waitFor[realtime.RoundSettled](t, h.events)
	if !settled.WithErrors || settled.Failed != 1 {
		t.Errorf("expected one failed settlement, got %+v", settled)
	}
	paused := waitFor[realtime.EnginePaused](t, h.events)
	if paused.Switch != models.SwitchPauseBets {
		t.Errorf("expected pause_bets, got %+v", paused)
	}

	round, _ := h.repo.GetRound(context.Background(), committed.RoundID)
	if round.Status != models.RoundStatusSettledWithErrors {
		t.Errorf("expected settled_with_errors, got %s", round.Status)
	}
	incidents, err := h.control.ListIncidents(context.Background(), models.IncidentOpen, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 || incidents[0].Kind != models.IncidentSettlementFailure || incidents[0].Subject != "round:"+committed.RoundID {
		t.Errorf("expected one settlement_failure incident for the round, got %+v", incidents)
	}
	// the stake stays locked until an operator settles it
	assertBalances(t, h.ledger, user, 40, 60)

	next := waitFor[realtime.BettingOpened](t, h.events)
	if !next.BetsPaused {
		t.Error("expected the next round to open with bets paused")
	}
}

func TestEngineHoldsRoundsUntilIncidentIsRaised(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 150))
	flaky := &flakyControls{ControlService: h.control}
	flaky.failing.Store(true)
	h.engine.ledger = brokenSettlement{h.ledger}
	h.engine.control = flaky
	user := createUser(t, h.db, "0xh")
	fundUser(t, h.ledger, user, 100)
	h.start(t)

	waitFor[realtime.BettingOpened](t, h.events)
	if _, err := bet(t, h.engine, BetRequest{UserID: user, Amount: 60, RefID: "bet:h"}); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if settled := waitFor[realtime.RoundSettled](t, h.events); !settled.WithErrors {
		t.Fatalf("expected settlement errors, got %+v", settled)
	}

	hold := time.After(300 * time.Millisecond)
	for waiting := true; waiting; {
		select {
		case ev := <-h.events.Events():
			if _, ok := ev.Payload.(realtime.RoundCommitted); ok {
				t.Fatal("a new round opened while the settlement incident was unrecorded")
			}
		case <-hold:
			waiting = false
		}
	}
	if h.control.IsPaused(models.SwitchPauseBets) {
		t.Fatal("pause_bets engaged without an incident")
	}

	flaky.failing.Store(false)
	waitFor[realtime.EnginePaused](t, h.events)
	if !h.control.IsPaused(models.SwitchPauseBets) {
		t.Error("expected pause_bets engaged once the incident was raised")
	}
	if next := waitFor[realtime.BettingOpened](t, h.events); !next.BetsPaused {
		t.Error("expected the next round to open with bets paused")
	}
}

func TestManualCashOutAfterCrashInstant(t *testing.T) {
	h := newEngineHarness(t, newStubVault(t, 200))
	ctx := context.Background()
	user := createUser(t, h.db, "0xlate")
	fundUser(t, h.ledger, user, 100)

	placed, err := h.ledger.PlaceBet(ctx, PlaceBetParams{UserID: user, RoundID: "round-late", Amount: 50, RefID: "bet:late-cashout"})
	if err != nil {
		t.Fatal(err)
	}

	// drive the engine state directly; Run is not started
	e := h.engine
	start := time.Now()
	e.round = &models.Round{ID: "round-late", Status: models.RoundStatusRunning}
	e.crash = 200
	e.startedAt = start
	e.crashAt = start.Add(CrashDelay(200, e.cfg.GrowthRatePerMs))
	lb := &liveBet{bet: placed.Bet}
	e.bets = []*liveBet{lb}
	e.betsByID[placed.Bet.ID] = lb

	for _, at := range []time.Time{e.crashAt, e.crashAt.Add(time.Millisecond), e.crashAt.Add(time.Second)} {
		cmd := &cashOutCmd{userID: user, betID: placed.Bet.ID, receivedAt: at}
		if _, err := e.manualCashOut(ctx, cmd); !errors.Is(err, ErrRoundStateViolation) {
			t.Errorf("cash-out %v after start: expected ErrRoundStateViolation, got %v", at.Sub(start), err)
		}
	}
	if lb.cashedOut {
		t.Fatal("late cash-out was recorded")
	}
	assertBalances(t, h.ledger, user, 50, 50)

	res, err := e.manualCashOut(ctx, &cashOutCmd{userID: user, betID: placed.Bet.ID, receivedAt: e.crashAt.Add(-time.Millisecond)})
	if err != nil {
		t.Fatalf("cash-out just before the crash failed: %v", err)
	}
	if res.Multiplier >= 200 {
		t.Errorf("expected multiplier below the crash point, got %d", res.Multiplier)
	}
	assertBalances(t, h.ledger, user, 50+res.Payout, 0)
}
