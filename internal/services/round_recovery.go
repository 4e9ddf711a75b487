package services

import (
	"context"
	"fmt"
	"log"

	"crash-game/internal/models"
)

// Recover finishes rounds a previous process left behind. Their seeds were
// held in memory and are gone, so rounds that never revealed are voided.
// A crashed round whose seed was already stored is settled.
func (e *RoundEngine) Recover(ctx context.Context) error {
	rounds, err := e.repo.ListUnfinishedRounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinished rounds: %w", err)
	}

	for _, round := range rounds {
		bets, err := e.repo.ListActiveBets(ctx, round.ID)
		if err != nil {
			return fmt.Errorf("failed to list bets of round %s: %w", round.ID, err)
		}

		e.round = round
		e.bets = make([]*liveBet, 0, len(bets))
		for _, bet := range bets {
			lb := &liveBet{bet: *bet}
			// a cash-out decided before the restart is still owed
			if bet.CashoutMultiplier != nil {
				lb.cashedOut = true
				lb.mult = *bet.CashoutMultiplier
				lb.payout, _ = payoutFor(bet.Amount, lb.mult)
			}
			e.bets = append(e.bets, lb)
		}

		if round.Status == models.RoundStatusCrashed && round.Revealed() && round.CrashMultiplier != nil {
			log.Printf("[RoundEngine] recovering round %d: settling %d bets", round.Nonce, len(bets))
			if err := e.settle(ctx); err != nil {
				return err
			}
		} else {
			log.Printf("[RoundEngine] recovering round %d: voiding from %s", round.Nonce, round.Status)
			if err := e.void(ctx, "engine restarted before reveal"); err != nil {
				return err
			}
		}
		e.reset()
	}
	return nil
}
