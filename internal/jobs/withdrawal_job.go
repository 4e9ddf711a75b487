package jobs

import (
	"context"
	"log"
	"time"
)

const withdrawalBatch = 50

// WithdrawalSender pays out pending withdrawals
type WithdrawalSender interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// WithdrawalJob sends pending withdrawals on a fixed interval
type WithdrawalJob struct {
	sender   WithdrawalSender
	interval time.Duration
	stopChan chan struct{}
}

// NewWithdrawalJob creates a new withdrawal job
func NewWithdrawalJob(sender WithdrawalSender, interval time.Duration) *WithdrawalJob {
	return &WithdrawalJob{
		sender:   sender,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the withdrawal loop
func (j *WithdrawalJob) Start() {
	log.Printf("[WithdrawalJob] Starting withdrawal job (interval: %v)", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce()
		case <-j.stopChan:
			log.Println("[WithdrawalJob] Stopping withdrawal job")
			return
		}
	}
}

// Stop stops the withdrawal loop
func (j *WithdrawalJob) Stop() {
	close(j.stopChan)
}

// RunOnce drains pending withdrawals in batches until a batch comes back short
func (j *WithdrawalJob) RunOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	total := 0
	for {
		n, err := j.sender.ProcessPending(ctx, withdrawalBatch)
		total += n
		if err != nil {
			log.Printf("[WithdrawalJob] Error processing withdrawals: %v", err)
			break
		}
		if n < withdrawalBatch {
			break
		}
	}
	if total > 0 {
		log.Printf("[WithdrawalJob] Processed %d withdrawals", total)
	}
	return total
}
