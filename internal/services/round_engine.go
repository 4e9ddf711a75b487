package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"crash-game/internal/config"
	"crash-game/internal/fairness"
	"crash-game/internal/metrics"
	"crash-game/internal/models"
	"crash-game/internal/realtime"
	"crash-game/internal/repository"

	"github.com/google/uuid"
)

// BetLedger is the part of the ledger the engine moves stakes through
type BetLedger interface {
	PlaceBet(ctx context.Context, p PlaceBetParams) (*BetResult, error)
	SettleBet(ctx context.Context, p SettleParams) (*BetResult, error)
	RefundBet(ctx context.Context, betID, refID string) (*BetResult, error)
}

// SeedVault commits to and reveals round seeds
type SeedVault interface {
	HouseEdgeBps() int64
	Commit(roundID string, nonce uint64) (string, error)
	CrashPoint(roundID string) (fairness.Multiplier, error)
	Reveal(roundID string) (string, fairness.Multiplier, error)
	Forget(roundID string)
}

// Controls exposes kill switches and incident escalation to the engine
type Controls interface {
	IsPaused(name string) bool
	RaiseIncident(ctx context.Context, kind models.IncidentKind, subject, detail string) (*models.Incident, error)
}

// BetRequest is a player's stake for the open round
type BetRequest struct {
	UserID          uint
	Amount          int64
	AutoCashout     *int64
	RefID           string
	ExpectedVersion *int64
}

// CashOutResult describes an accepted cash-out. Pending means the decision
// is final but the ledger write is still owed and will be retried at
// settlement.
type CashOutResult struct {
	BetID      string        `json:"bet_id"`
	RoundID    string        `json:"round_id"`
	Multiplier int64         `json:"multiplier"`
	Payout     int64         `json:"payout"`
	Auto       bool          `json:"auto"`
	Account    *AccountState `json:"account,omitempty"`
	Pending    bool          `json:"pending"`
	Duplicate  bool          `json:"duplicate"`
}

type betReply struct {
	res *BetResult
	err error
}

type cashOutReply struct {
	res *CashOutResult
	err error
}

type placeBetCmd struct {
	req        BetRequest
	receivedAt time.Time
	reply      chan betReply
}

type cashOutCmd struct {
	userID     uint
	betID      string
	receivedAt time.Time
	reply      chan cashOutReply
}

// liveBet is the engine's view of a bet in the current round
type liveBet struct {
	bet       models.Bet
	cashedOut bool
	auto      bool
	mult      int64
	payout    int64
	settled   bool
	account   *AccountState
}

// RoundEngine runs rounds one after another. All round state is owned by
// the goroutine in Run; callers reach it through a command channel.
type RoundEngine struct {
	cfg     config.GameConfig
	repo    *repository.Repository
	ledger  BetLedger
	vault   SeedVault
	events  EventPublisher
	control Controls
	now     func() time.Time
	cmds    chan interface{}

	round      *models.Round
	bets       []*liveBet
	betsByID   map[string]*liveBet
	betsPaused bool
	crash      fairness.Multiplier
	startedAt  time.Time
	crashAt    time.Time

	// incidents that could not be written; no round opens until they are
	unraised []escalation
}

type escalation struct {
	kind    models.IncidentKind
	subject string
	detail  string
}

func NewRoundEngine(
	cfg config.GameConfig,
	repo *repository.Repository,
	ledger BetLedger,
	vault SeedVault,
	events EventPublisher,
	control Controls,
) *RoundEngine {
	return &RoundEngine{
		cfg:      cfg,
		repo:     repo,
		ledger:   ledger,
		vault:    vault,
		events:   events,
		control:  control,
		now:      time.Now,
		cmds:     make(chan interface{}),
		betsByID: make(map[string]*liveBet),
	}
}

// PlaceBet submits a bet for the round currently taking bets
func (e *RoundEngine) PlaceBet(ctx context.Context, req BetRequest) (*BetResult, error) {
	cmd := &placeBetCmd{req: req, receivedAt: e.now(), reply: make(chan betReply, 1)}
	if err := e.submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ErrEngineBusy
	}
}

// CashOut takes a running bet out at the current multiplier
func (e *RoundEngine) CashOut(ctx context.Context, userID uint, betID string) (*CashOutResult, error) {
	cmd := &cashOutCmd{userID: userID, betID: betID, receivedAt: e.now(), reply: make(chan cashOutReply, 1)}
	if err := e.submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ErrEngineBusy
	}
}

func (e *RoundEngine) submit(ctx context.Context, cmd interface{}) error {
	select {
	case e.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ErrEngineBusy
	}
}

// Run recovers rounds left by a previous process, then plays rounds until
// ctx is cancelled
func (e *RoundEngine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return fmt.Errorf("round recovery failed: %w", err)
	}
	log.Printf("[RoundEngine] started (edge %d bps, window %v)", e.vault.HouseEdgeBps(), e.cfg.BettingWindow)

	for {
		if err := e.playRound(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[RoundEngine] round failed: %v", err)
		}
		e.reset()
		if !e.wait(ctx, e.cfg.Cooldown) {
			log.Println("[RoundEngine] stopped")
			return nil
		}
	}
}

func (e *RoundEngine) reset() {
	e.round = nil
	e.bets = nil
	e.betsByID = make(map[string]*liveBet)
	e.betsPaused = false
	e.crash = 0
	e.startedAt = time.Time{}
	e.crashAt = time.Time{}
}

// wait sleeps for d while serving commands. It returns false if ctx ended.
func (e *RoundEngine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		}
	}
}

// drain serves commands already waiting to be received
func (e *RoundEngine) drain(ctx context.Context) {
	for {
		select {
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		default:
			return
		}
	}
}

func (e *RoundEngine) status() models.RoundStatus {
	if e.round == nil {
		return ""
	}
	return e.round.Status
}

func (e *RoundEngine) handle(ctx context.Context, cmd interface{}) {
	switch c := cmd.(type) {
	case *placeBetCmd:
		res, err := e.admitBet(ctx, c)
		if err != nil {
			metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		c.reply <- betReply{res: res, err: err}
	case *cashOutCmd:
		res, err := e.manualCashOut(ctx, c)
		c.reply <- cashOutReply{res: res, err: err}
	}
}

func (e *RoundEngine) playRound(ctx context.Context) error {
	for !e.flushEscalations(ctx) {
		if !e.wait(ctx, e.cfg.PausePoll) {
			return ctx.Err()
		}
	}
	for e.control.IsPaused(models.SwitchPauseRounds) {
		if !e.wait(ctx, e.cfg.PausePoll) {
			return ctx.Err()
		}
	}

	if err := e.commit(ctx); err != nil {
		return err
	}
	if err := e.runBetting(ctx); err != nil {
		return e.abort(ctx, err)
	}
	if err := e.runFlight(ctx); err != nil {
		return e.abort(ctx, err)
	}
	if err := e.finish(ctx); err != nil {
		return e.abort(ctx, err)
	}
	return nil
}

// commit creates the round with its published commitment
func (e *RoundEngine) commit(ctx context.Context) error {
	nonce, err := e.repo.NextNonce(ctx)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	roundID := uuid.New().String()
	commit, err := e.vault.Commit(roundID, nonce)
	if err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	round := &models.Round{
		ID:           roundID,
		Nonce:        nonce,
		Status:       models.RoundStatusCommitted,
		CommitHash:   commit,
		HouseEdgeBps: e.vault.HouseEdgeBps(),
	}
	if err := e.repo.CreateRound(ctx, round); err != nil {
		e.vault.Forget(roundID)
		return fmt.Errorf("failed to create round: %w", err)
	}
	e.round = round

	e.events.Publish(realtime.RoundCommitted{RoundID: roundID, Nonce: nonce, CommitHash: commit})
	return nil
}

func (e *RoundEngine) transition(ctx context.Context, to models.RoundStatus, updates map[string]interface{}) error {
	if err := e.repo.TransitionRound(ctx, e.round.ID, e.round.Status, to, updates); err != nil {
		return fmt.Errorf("%w: %v", ErrRoundStateViolation, err)
	}
	e.round.Status = to
	return nil
}

func (e *RoundEngine) runBetting(ctx context.Context) error {
	endsAt := e.now().Add(e.cfg.BettingWindow)
	e.betsPaused = e.control.IsPaused(models.SwitchPauseBets)

	if err := e.transition(ctx, models.RoundStatusBetting, map[string]interface{}{"betting_ends_at": endsAt}); err != nil {
		return err
	}
	e.round.BettingEndsAt = &endsAt
	e.events.Publish(realtime.BettingOpened{RoundID: e.round.ID, ClosesAt: endsAt, BetsPaused: e.betsPaused})
	if e.betsPaused {
		log.Printf("[RoundEngine] round %d: bets paused", e.round.Nonce)
	}

	if !e.wait(ctx, time.Until(endsAt)) {
		return ctx.Err()
	}
	// bets received before the window closed are still admitted
	e.drain(ctx)
	return nil
}

func (e *RoundEngine) admitBet(ctx context.Context, c *placeBetCmd) (*BetResult, error) {
	if e.status() != models.RoundStatusBetting || !c.receivedAt.Before(*e.round.BettingEndsAt) {
		return nil, fmt.Errorf("%w: betting is closed", ErrRoundStateViolation)
	}
	if e.betsPaused {
		return nil, ErrOperationPaused
	}
	req := c.req
	if req.Amount < e.cfg.MinBet || req.Amount > e.cfg.MaxBet {
		return nil, fmt.Errorf("%w: stake must be between %d and %d", ErrInvalidAmount, e.cfg.MinBet, e.cfg.MaxBet)
	}
	if req.AutoCashout != nil && (*req.AutoCashout <= int64(fairness.MinMultiplier) || *req.AutoCashout > int64(fairness.MaxMultiplier)) {
		return nil, ErrInvalidAutoCashout
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()

	res, err := e.ledger.PlaceBet(callCtx, PlaceBetParams{
		UserID:          req.UserID,
		RoundID:         e.round.ID,
		Amount:          req.Amount,
		RefID:           req.RefID,
		ExpectedVersion: req.ExpectedVersion,
		AutoCashout:     req.AutoCashout,
		PlacedAt:        c.receivedAt,
	})
	if err != nil {
		return nil, err
	}
	if res.Bet.RoundID != e.round.ID {
		return nil, fmt.Errorf("%w: ref id belongs to another round", ErrRefIDConflict)
	}
	if _, seen := e.betsByID[res.Bet.ID]; seen {
		return res, nil
	}

	lb := &liveBet{bet: res.Bet}
	e.bets = append(e.bets, lb)
	e.betsByID[res.Bet.ID] = lb

	metrics.BetsPlaced.Inc()
	e.events.Publish(realtime.BetPlaced{
		RoundID:     e.round.ID,
		BetID:       res.Bet.ID,
		UserID:      res.Bet.UserID,
		Amount:      res.Bet.Amount,
		AutoCashout: res.Bet.AutoCashout,
	})
	return res, nil
}

func (e *RoundEngine) runFlight(ctx context.Context) error {
	crash, err := e.vault.CrashPoint(e.round.ID)
	if err != nil {
		return fmt.Errorf("failed to read crash point: %w", err)
	}

	startedAt := e.now()
	if err := e.transition(ctx, models.RoundStatusRunning, map[string]interface{}{"started_at": startedAt}); err != nil {
		return err
	}
	e.crash = crash
	e.startedAt = startedAt
	e.crashAt = startedAt.Add(CrashDelay(crash, e.cfg.GrowthRatePerMs))
	e.round.StartedAt = &startedAt
	e.events.Publish(realtime.RoundStarted{RoundID: e.round.ID, StartedAt: startedAt})

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	crashTimer := time.NewTimer(e.crashAt.Sub(e.now()))
	defer crashTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		case <-ticker.C:
			elapsed := e.now().Sub(startedAt)
			m := MultiplierAt(elapsed, e.cfg.GrowthRatePerMs)
			if m >= int64(crash) {
				continue
			}
			metrics.CurrentMultiplier.Set(float64(m))
			e.events.Publish(realtime.Tick{RoundID: e.round.ID, Multiplier: m, ElapsedMs: elapsed.Milliseconds()})
			e.autoCashOuts(ctx, m)
		case <-crashTimer.C:
			// cash-outs received before the crash instant still count
			e.drain(ctx)
			e.autoCashOuts(ctx, int64(crash)-1)
			return e.crashRound(ctx)
		}
	}
}

// autoCashOuts settles every auto cash-out target at or below m
func (e *RoundEngine) autoCashOuts(ctx context.Context, m int64) {
	for _, lb := range e.bets {
		if lb.cashedOut || lb.bet.AutoCashout == nil {
			continue
		}
		target := *lb.bet.AutoCashout
		if target <= m && target < int64(e.crash) {
			e.cashOut(ctx, lb, target, true)
		}
	}
}

func (e *RoundEngine) manualCashOut(ctx context.Context, c *cashOutCmd) (*CashOutResult, error) {
	lb, ok := e.betsByID[c.betID]
	if !ok || lb.bet.UserID != c.userID {
		return nil, ErrBetNotFound
	}
	if lb.cashedOut {
		res := e.cashOutResult(lb)
		res.Duplicate = true
		return res, nil
	}
	if e.status() != models.RoundStatusRunning || !c.receivedAt.Before(e.crashAt) {
		return nil, fmt.Errorf("%w: round is not running", ErrRoundStateViolation)
	}

	m := MultiplierAt(c.receivedAt.Sub(e.startedAt), e.cfg.GrowthRatePerMs)
	if m >= int64(e.crash) {
		return nil, fmt.Errorf("%w: round crashed", ErrRoundStateViolation)
	}
	return e.cashOut(ctx, lb, m, false), nil
}

// cashOut records the decision first; a failed ledger write leaves the
// bet owed and is retried at settlement
func (e *RoundEngine) cashOut(ctx context.Context, lb *liveBet, m int64, auto bool) *CashOutResult {
	payout, ok := payoutFor(lb.bet.Amount, m)
	if !ok {
		log.Printf("[RoundEngine] payout overflow for bet %s at %d", lb.bet.ID, m)
		payout = lb.bet.Amount
	}
	lb.cashedOut = true
	lb.auto = auto
	lb.mult = m
	lb.payout = payout

	trigger := "manual"
	if auto {
		trigger = "auto"
	}
	metrics.CashOuts.WithLabelValues(trigger).Inc()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	res, err := e.ledger.SettleBet(callCtx, e.cashOutParams(lb))
	cancel()
	if err != nil {
		log.Printf("[RoundEngine] cash-out of bet %s owed, ledger write failed: %v", lb.bet.ID, err)
		if rerr := e.repo.RecordCashout(ctx, lb.bet.ID, m); rerr != nil {
			log.Printf("[RoundEngine] failed to record cash-out of bet %s: %v", lb.bet.ID, rerr)
		}
	} else {
		lb.settled = true
		lb.account = &res.Account
	}

	e.events.Publish(realtime.BetCashedOut{
		RoundID:    e.round.ID,
		BetID:      lb.bet.ID,
		UserID:     lb.bet.UserID,
		Multiplier: m,
		Payout:     payout,
		Auto:       auto,
	})
	return e.cashOutResult(lb)
}

func (e *RoundEngine) cashOutParams(lb *liveBet) SettleParams {
	mult := lb.mult
	return SettleParams{
		BetID:             lb.bet.ID,
		Payout:            lb.payout,
		CashoutMultiplier: &mult,
		RefID:             models.CashoutRefID(lb.bet.ID),
		SettledAt:         e.now(),
	}
}

func (e *RoundEngine) cashOutResult(lb *liveBet) *CashOutResult {
	return &CashOutResult{
		BetID:      lb.bet.ID,
		RoundID:    lb.bet.RoundID,
		Multiplier: lb.mult,
		Payout:     lb.payout,
		Auto:       lb.auto,
		Account:    lb.account,
		Pending:    !lb.settled,
	}
}

func (e *RoundEngine) crashRound(ctx context.Context) error {
	crashedAt := e.now()
	crash := int64(e.crash)
	if err := e.transition(ctx, models.RoundStatusCrashed, map[string]interface{}{
		"crashed_at":       crashedAt,
		"crash_multiplier": crash,
	}); err != nil {
		return err
	}
	e.round.CrashedAt = &crashedAt
	e.round.CrashMultiplier = &crash
	metrics.CurrentMultiplier.Set(0)

	e.events.Publish(realtime.RoundCrashed{RoundID: e.round.ID, CrashMultiplier: crash, CrashedAt: crashedAt})
	log.Printf("[RoundEngine] round %d crashed at %s", e.round.Nonce, fairness.Multiplier(crash))
	return nil
}

// finish reveals the seed and settles, or voids the round when the seed
// cannot be revealed in time
func (e *RoundEngine) finish(ctx context.Context) error {
	defer e.vault.Forget(e.round.ID)

	seed, err := e.reveal(ctx)
	if err != nil {
		log.Printf("[RoundEngine] round %d reveal failed: %v", e.round.Nonce, err)
		return e.void(ctx, err.Error())
	}

	if err := e.repo.RevealRound(ctx, e.round.ID, seed); err != nil {
		return e.void(ctx, fmt.Sprintf("failed to store seed: %v", err))
	}
	e.round.ServerSeed = &seed
	e.events.Publish(realtime.SeedRevealed{
		RoundID:         e.round.ID,
		ServerSeed:      seed,
		Nonce:           e.round.Nonce,
		CommitHash:      e.round.CommitHash,
		CrashMultiplier: int64(e.crash),
	})

	return e.settle(ctx)
}

func (e *RoundEngine) reveal(ctx context.Context) (string, error) {
	type revealed struct {
		seed string
		err  error
	}
	out := make(chan revealed, 1)
	roundID := e.round.ID
	go func() {
		seed, _, err := e.vault.Reveal(roundID)
		out <- revealed{seed: seed, err: err}
	}()

	timer := time.NewTimer(e.cfg.RevealTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		case <-timer.C:
			return "", ErrFairnessRevealTimeout
		case r := <-out:
			if r.err != nil {
				return "", r.err
			}
			commit, err := fairness.CommitHash(r.seed, roundID, e.round.Nonce)
			if err != nil {
				return "", err
			}
			if commit != e.round.CommitHash {
				return "", fmt.Errorf("revealed seed does not match commitment %s", e.round.CommitHash)
			}
			return r.seed, nil
		}
	}
}

// settle writes every outstanding outcome with bounded retries
func (e *RoundEngine) settle(ctx context.Context) error {
	var lost, failed int
	for _, lb := range e.bets {
		if lb.settled {
			continue
		}
		var params SettleParams
		if lb.cashedOut {
			params = e.cashOutParams(lb)
		} else {
			params = SettleParams{BetID: lb.bet.ID, Payout: 0, RefID: models.SettleRefID(lb.bet.ID), SettledAt: e.now()}
			lost++
		}
		err := e.retry(ctx, func(callCtx context.Context) error {
			_, err := e.ledger.SettleBet(callCtx, params)
			return err
		})
		if err != nil {
			failed++
			log.Printf("[RoundEngine] settlement of bet %s failed: %v", lb.bet.ID, err)
			continue
		}
		lb.settled = true
	}

	status := models.RoundStatusSettled
	if failed > 0 {
		status = models.RoundStatusSettledWithErrors
	}
	if err := e.transition(ctx, status, map[string]interface{}{"settled_at": e.now()}); err != nil {
		return err
	}
	metrics.Rounds.WithLabelValues(string(status)).Inc()
	e.events.Publish(realtime.RoundSettled{RoundID: e.round.ID, WithErrors: failed > 0, Lost: lost, Failed: failed})

	if failed > 0 {
		e.escalate(ctx, models.IncidentSettlementFailure, fmt.Sprintf("%d of %d bets unsettled", failed, len(e.bets)))
	}
	return nil
}

// abort voids the current round after an engine error
func (e *RoundEngine) abort(ctx context.Context, cause error) error {
	if e.round == nil || e.round.Status.Terminal() {
		return cause
	}
	defer e.vault.Forget(e.round.ID)

	voidCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		voidCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := e.void(voidCtx, cause.Error()); err != nil {
		log.Printf("[RoundEngine] failed to void round %d: %v", e.round.Nonce, err)
	}
	return cause
}

// void refunds every bet without a cash-out decision. Cash-outs decided
// before the crash stand.
func (e *RoundEngine) void(ctx context.Context, reason string) error {
	var refunded, failed int
	for _, lb := range e.bets {
		if lb.settled {
			continue
		}
		var err error
		if lb.cashedOut {
			params := e.cashOutParams(lb)
			err = e.retry(ctx, func(callCtx context.Context) error {
				_, err := e.ledger.SettleBet(callCtx, params)
				return err
			})
		} else {
			betID := lb.bet.ID
			err = e.retry(ctx, func(callCtx context.Context) error {
				_, err := e.ledger.RefundBet(callCtx, betID, models.RefundRefID(betID))
				return err
			})
			if err == nil {
				refunded++
			}
		}
		if err != nil {
			failed++
			log.Printf("[RoundEngine] refund of bet %s failed: %v", lb.bet.ID, err)
			continue
		}
		lb.settled = true
	}

	if err := e.transition(ctx, models.RoundStatusVoided, map[string]interface{}{"void_reason": reason}); err != nil {
		return err
	}
	metrics.Rounds.WithLabelValues(string(models.RoundStatusVoided)).Inc()
	e.events.Publish(realtime.RoundVoided{RoundID: e.round.ID, Reason: reason, Refunded: refunded})
	log.Printf("[RoundEngine] round %d voided: %s (%d refunded)", e.round.Nonce, reason, refunded)

	if failed > 0 {
		e.escalate(ctx, models.IncidentRefundFailure, fmt.Sprintf("%d of %d refunds failed", failed, len(e.bets)))
	}
	return nil
}

// escalate raises an incident for the current round. If it cannot be
// written the engine holds it and stops opening rounds until it is.
func (e *RoundEngine) escalate(ctx context.Context, kind models.IncidentKind, detail string) {
	esc := escalation{kind: kind, subject: "round:" + e.round.ID, detail: detail}
	err := e.retry(ctx, func(callCtx context.Context) error {
		_, err := e.control.RaiseIncident(callCtx, esc.kind, esc.subject, esc.detail)
		return err
	})
	if err != nil {
		log.Printf("[RoundEngine] failed to raise %s incident, holding rounds: %v", kind, err)
		e.unraised = append(e.unraised, esc)
	}
}

// flushEscalations retries held incidents and reports whether none remain
func (e *RoundEngine) flushEscalations(ctx context.Context) bool {
	kept := e.unraised[:0]
	for _, esc := range e.unraised {
		if _, err := e.control.RaiseIncident(ctx, esc.kind, esc.subject, esc.detail); err != nil {
			log.Printf("[RoundEngine] still cannot raise %s incident for %s: %v", esc.kind, esc.subject, err)
			kept = append(kept, esc)
		}
	}
	e.unraised = kept
	return len(kept) == 0
}

// retry calls fn with exponential backoff. A bet that is already final
// counts as done.
func (e *RoundEngine) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := e.cfg.SettleBackoff
	var err error
	for attempt := 0; attempt <= e.cfg.SettleRetries; attempt++ {
		if attempt > 0 {
			metrics.SettlementRetries.Inc()
			if !e.wait(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil || errors.Is(err, ErrDuplicateOperation) {
			return nil
		}
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrRoundStateViolation):
		return "closed"
	case errors.Is(err, ErrOperationPaused):
		return "paused"
	case errors.Is(err, ErrBetExists):
		return "duplicate"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAutoCashout):
		return "invalid"
	}
	return "error"
}
