package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"crash-game/internal/blockchain"
	"crash-game/internal/models"
)

// WithdrawalService turns withdrawal intents into payments. The ledger
// debit is written when the intent is created; a payment that cannot be
// made is reversed with a compensating adjustment.
type WithdrawalService struct {
	ledger  *LedgerService
	payer   blockchain.Payer
	control Controls
	chain   string
}

func NewWithdrawalService(ledger *LedgerService, payer blockchain.Payer, control Controls, chain string) *WithdrawalService {
	if payer == nil {
		payer = blockchain.ManualPayer{}
	}
	return &WithdrawalService{
		ledger:  ledger,
		payer:   payer,
		control: control,
		chain:   chain,
	}
}

// Request debits the user and records a pending intent
func (s *WithdrawalService) Request(ctx context.Context, userID uint, amount int64, toAddress, refID string) (*WithdrawalResult, error) {
	if s.control.IsPaused(models.SwitchPauseWithdrawals) {
		return nil, ErrOperationPaused
	}
	if err := s.validateAddress(toAddress); err != nil {
		return nil, err
	}

	res, err := s.ledger.RequestWithdrawal(ctx, userID, amount, blockchain.NormalizeAddress(s.chain, toAddress), refID)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		log.Printf("[Withdrawals] user %d requested %d to %s (%s)", userID, amount, toAddress, refID)
	}
	return res, nil
}

// ProcessPending claims pending intents and pays them. Intents the payer
// leaves to an operator stay in processing.
func (s *WithdrawalService) ProcessPending(ctx context.Context, limit int) (int, error) {
	if s.control.IsPaused(models.SwitchPauseWithdrawals) {
		return 0, nil
	}

	pending, err := s.ledger.ListWithdrawalsByStatus(ctx, models.WithdrawalPending, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}

	sent := 0
	for _, w := range pending {
		claimed, err := s.ledger.MarkWithdrawalProcessing(ctx, w.RefID)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		txHash, err := s.payer.Pay(ctx, w.ToAddress, w.Amount)
		switch {
		case errors.Is(err, blockchain.ErrManualPayout):
			continue
		case err != nil:
			log.Printf("[Withdrawals] payment %s failed: %v", w.RefID, err)
			if _, rerr := s.ledger.ReverseWithdrawal(ctx, w.RefID, "payment failed: "+err.Error()); rerr != nil {
				log.Printf("[Withdrawals] failed to reverse %s: %v", w.RefID, rerr)
			}
			continue
		}

		if _, err := s.ledger.CompleteWithdrawal(ctx, w.RefID, txHash); err != nil {
			// the payment is on chain; leave the intent for an operator
			log.Printf("[Withdrawals] %s paid in %s but could not be marked sent: %v", w.RefID, txHash, err)
			continue
		}
		sent++
		log.Printf("[Withdrawals] paid %d to %s in %s", w.Amount, w.ToAddress, txHash)
	}
	return sent, nil
}

// Complete records an operator-sent payment
func (s *WithdrawalService) Complete(ctx context.Context, refID, txHash string) (*models.Withdrawal, error) {
	w, err := s.ledger.CompleteWithdrawal(ctx, refID, txHash)
	if err != nil {
		return nil, err
	}
	log.Printf("[Withdrawals] %s marked sent in %s", refID, txHash)
	return w, nil
}

// Fail rejects an unsent withdrawal and credits the funds back
func (s *WithdrawalService) Fail(ctx context.Context, refID, reason string) (*LedgerResult, error) {
	res, err := s.ledger.ReverseWithdrawal(ctx, refID, reason)
	if err != nil {
		return nil, err
	}
	log.Printf("[Withdrawals] %s failed by operator: %s", refID, reason)
	return res, nil
}

func (s *WithdrawalService) validateAddress(address string) error {
	if s.chain == blockchain.ChainEVM || s.chain == blockchain.ChainSolana {
		return s.wrapAddressErr(blockchain.ValidateAddress(s.chain, address))
	}
	// without a configured chain either format is accepted
	if blockchain.ValidateAddress(blockchain.ChainEVM, address) == nil ||
		blockchain.ValidateAddress(blockchain.ChainSolana, address) == nil {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
}

func (s *WithdrawalService) wrapAddressErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
}
