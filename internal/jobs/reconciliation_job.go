package jobs

import (
	"context"
	"log"
	"time"

	"crash-game/internal/services"
)

// Reconciler checks the ledger against itself and against custody
type Reconciler interface {
	Reconcile(ctx context.Context) (*services.ReconcileReport, error)
}

// ReconciliationJob runs the reconciler on a fixed interval
type ReconciliationJob struct {
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	stopChan   chan struct{}
}

// NewReconciliationJob creates a new reconciliation job
func NewReconciliationJob(reconciler Reconciler, interval time.Duration) *ReconciliationJob {
	return &ReconciliationJob{
		reconciler: reconciler,
		interval:   interval,
		timeout:    interval,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (j *ReconciliationJob) Start() {
	log.Printf("[Reconciliation] Starting reconciliation job (interval: %v)", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce()
		case <-j.stopChan:
			log.Println("[Reconciliation] Stopping reconciliation job")
			return
		}
	}
}

// Stop stops the reconciliation loop
func (j *ReconciliationJob) Stop() {
	close(j.stopChan)
}

// RunOnce performs a single reconciliation pass
func (j *ReconciliationJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		log.Printf("[Reconciliation] Error: %v", err)
		return
	}

	if len(report.Failed) > 0 {
		log.Printf("[Reconciliation] %d of %d accounts failed their check", len(report.Failed), report.Accounts)
	}
	if report.Custody != nil && report.Custody.Drift != 0 {
		log.Printf("[Reconciliation] custody drift %d (consecutive: %d)", report.Custody.Drift, report.Custody.Consecutive)
	}
}
