package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"crash-game/internal/metrics"
	"crash-game/internal/models"
	"crash-game/internal/repository"
)

// CustodySource reports the custodial on-chain balance in ledger minor units
type CustodySource interface {
	CustodyBalance(ctx context.Context) (int64, error)
}

// CustodyReport is one comparison of custody against ledger obligations
type CustodyReport struct {
	Custody     int64     `json:"custody"`
	Liabilities int64     `json:"liabilities"`
	InFlight    int64     `json:"in_flight_withdrawals"`
	Uncredited  int64     `json:"uncredited_deposits"`
	Drift       int64     `json:"drift"`
	Consecutive int       `json:"consecutive"`
	CheckedAt   time.Time `json:"checked_at"`
}

// ReconcileReport is the result of a full reconciliation pass
type ReconcileReport struct {
	Accounts int            `json:"accounts"`
	Failed   []AccountCheck `json:"failed"`
	Custody  *CustodyReport `json:"custody,omitempty"`
}

// ReconciliationService checks every account against its journal, and the
// sum of all accounts against what custody actually holds
type ReconciliationService struct {
	ledger  *LedgerService
	repo    *repository.Repository
	custody CustodySource
	control Controls

	mu     sync.Mutex
	streak int
}

// NewReconciliationService creates a reconciler. custody may be nil when no
// chain is configured; the custody check is then skipped.
func NewReconciliationService(ledger *LedgerService, repo *repository.Repository, custody CustodySource, control Controls) *ReconciliationService {
	return &ReconciliationService{
		ledger:  ledger,
		repo:    repo,
		custody: custody,
		control: control,
	}
}

// Reconcile runs both checks
func (s *ReconciliationService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	checks, failed, err := s.CheckAccounts(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Accounts: checks, Failed: failed}

	custody, err := s.CheckCustody(ctx)
	if err != nil {
		return report, err
	}
	report.Custody = custody
	return report, nil
}

// CheckAccounts raises a ledger_reconciliation incident for every account
// whose balances disagree with its entries
func (s *ReconciliationService) CheckAccounts(ctx context.Context) (int, []AccountCheck, error) {
	checks, err := s.ledger.CheckAllAccounts(ctx)
	if err != nil {
		return 0, nil, err
	}

	failed := make([]AccountCheck, 0)
	for _, c := range checks {
		if c.OK() {
			continue
		}
		failed = append(failed, c)
		detail := fmt.Sprintf("%v: account %d holds %d/%d, entries sum to %d/%d (total %d)",
			ErrLedgerReconciliationFault, c.UserID, c.Available, c.Locked, c.SumAvailable, c.SumLocked, c.SumAmount)
		log.Printf("[Reconciliation] %s", detail)
		if _, err := s.control.RaiseIncident(ctx, models.IncidentLedgerReconciliation, fmt.Sprintf("account:%d", c.UserID), detail); err != nil {
			return len(checks), failed, fmt.Errorf("failed to raise incident: %w", err)
		}
	}
	return len(checks), failed, nil
}

// CheckCustody compares custody with liabilities plus withdrawals not yet
// paid plus deposits not yet credited. A nonzero drift raises custody_drift
// only when seen on two consecutive checks; a withdrawal broadcast between
// the two reads shows up as a one-off difference.
func (s *ReconciliationService) CheckCustody(ctx context.Context) (*CustodyReport, error) {
	if s.custody == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	liabilities, err := s.ledger.Liabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum liabilities: %w", err)
	}
	inFlight, err := s.ledger.InFlightWithdrawals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	uncredited, err := s.repo.SumUncreditedDeposits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum deposits: %w", err)
	}
	custody, err := s.custody.CustodyBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read custody balance: %w", err)
	}

	report := &CustodyReport{
		Custody:     custody,
		Liabilities: liabilities,
		InFlight:    inFlight,
		Uncredited:  uncredited,
		Drift:       custody - (liabilities + inFlight + uncredited),
		CheckedAt:   time.Now(),
	}
	metrics.CustodyDrift.Set(float64(report.Drift))

	if report.Drift == 0 {
		s.streak = 0
		return report, nil
	}
	s.streak++
	report.Consecutive = s.streak
	log.Printf("[Reconciliation] custody drift %d (custody %d, liabilities %d, in flight %d, uncredited %d), seen %d time(s)",
		report.Drift, custody, liabilities, inFlight, uncredited, s.streak)

	if s.streak >= 2 {
		detail := fmt.Sprintf("%v: custody %d differs from obligations by %d", ErrLedgerReconciliationFault, custody, report.Drift)
		if _, err := s.control.RaiseIncident(ctx, models.IncidentCustodyDrift, "custody", detail); err != nil {
			return report, fmt.Errorf("failed to raise incident: %w", err)
		}
	}
	return report, nil
}
