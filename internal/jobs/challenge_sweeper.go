package jobs

import (
	"context"
	"log"
	"time"
)

// ChallengePurger deletes expired login challenges
type ChallengePurger interface {
	PurgeChallenges(ctx context.Context) (int64, error)
}

// ChallengeSweeper removes stale login challenges
type ChallengeSweeper struct {
	purger   ChallengePurger
	interval time.Duration
	stopChan chan struct{}
}

func NewChallengeSweeper(purger ChallengePurger, interval time.Duration) *ChallengeSweeper {
	return &ChallengeSweeper{
		purger:   purger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (j *ChallengeSweeper) Start() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := j.purger.PurgeChallenges(ctx)
			cancel()
			if err != nil {
				log.Printf("[Auth] Error purging challenges: %v", err)
			} else if n > 0 {
				log.Printf("[Auth] Purged %d expired challenges", n)
			}
		case <-j.stopChan:
			return
		}
	}
}

// Stop stops the sweep loop
func (j *ChallengeSweeper) Stop() {
	close(j.stopChan)
}
