package realtime

import (
	"time"
)

const recentRounds = 20

// BetView is the public state of one bet in the current round
type BetView struct {
	BetID       string `json:"bet_id"`
	UserID      uint   `json:"user_id"`
	Amount      int64  `json:"amount"`
	AutoCashout *int64 `json:"auto_cashout,omitempty"`
	Status      string `json:"status"`
	Multiplier  int64  `json:"multiplier,omitempty"`
	Payout      int64  `json:"payout,omitempty"`
}

// RoundView is the current round as a client should render it
type RoundView struct {
	RoundID         string     `json:"round_id"`
	Status          string     `json:"status"`
	Nonce           uint64     `json:"nonce"`
	CommitHash      string     `json:"commit_hash"`
	BettingClosesAt *time.Time `json:"betting_closes_at,omitempty"`
	BetsPaused      bool       `json:"bets_paused"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Multiplier      int64      `json:"multiplier"`
	CrashMultiplier int64      `json:"crash_multiplier,omitempty"`
	ServerSeed      string     `json:"server_seed,omitempty"`
	Bets            []BetView  `json:"bets"`
}

// RecentRound is one finished round in the history strip
type RecentRound struct {
	RoundID         string `json:"round_id"`
	CrashMultiplier int64  `json:"crash_multiplier"`
	Voided          bool   `json:"voided"`
}

// Snapshot is the full state a new client starts from. Events with
// ID > LastEventID follow it on the same subscription.
type Snapshot struct {
	Epoch       string        `json:"epoch"`
	LastEventID uint64        `json:"last_event_id"`
	Round       *RoundView    `json:"round,omitempty"`
	Recent      []RecentRound `json:"recent"`
}

// viewState folds events into the current snapshot
type viewState struct {
	round  *RoundView
	bets   map[string]int
	recent []RecentRound
}

func (v *viewState) apply(ev Event) {
	switch p := ev.Payload.(type) {
	case RoundCommitted:
		v.round = &RoundView{
			RoundID:    p.RoundID,
			Status:     "committed",
			Nonce:      p.Nonce,
			CommitHash: p.CommitHash,
			Multiplier: 100,
		}
		v.bets = make(map[string]int)
	case EnginePaused:
		// informational; round state is unchanged
	default:
		if v.round == nil || roundOf(p) != v.round.RoundID {
			return
		}
		v.applyRound(p)
	}
}

func (v *viewState) applyRound(p Payload) {
	r := v.round
	switch p := p.(type) {
	case BettingOpened:
		r.Status = "betting"
		closes := p.ClosesAt
		r.BettingClosesAt = &closes
		r.BetsPaused = p.BetsPaused
	case RoundStarted:
		r.Status = "running"
		started := p.StartedAt
		r.StartedAt = &started
		r.Multiplier = 100
	case Tick:
		r.Multiplier = p.Multiplier
	case BetPlaced:
		v.bets[p.BetID] = len(r.Bets)
		r.Bets = append(r.Bets, BetView{
			BetID:       p.BetID,
			UserID:      p.UserID,
			Amount:      p.Amount,
			AutoCashout: p.AutoCashout,
			Status:      "active",
		})
	case BetCashedOut:
		if i, ok := v.bets[p.BetID]; ok {
			r.Bets[i].Status = "cashed_out"
			r.Bets[i].Multiplier = p.Multiplier
			r.Bets[i].Payout = p.Payout
		}
	case RoundCrashed:
		r.Status = "crashed"
		r.CrashMultiplier = p.CrashMultiplier
		r.Multiplier = p.CrashMultiplier
		v.closeBets("lost")
	case SeedRevealed:
		r.ServerSeed = p.ServerSeed
	case RoundSettled:
		r.Status = "settled"
		if p.WithErrors {
			r.Status = "settled_with_errors"
		}
		v.pushRecent(RecentRound{RoundID: r.RoundID, CrashMultiplier: r.CrashMultiplier})
	case RoundVoided:
		r.Status = "voided"
		v.closeBets("refunded")
		v.pushRecent(RecentRound{RoundID: r.RoundID, CrashMultiplier: r.CrashMultiplier, Voided: true})
	}
}

func (v *viewState) closeBets(status string) {
	for i := range v.round.Bets {
		if v.round.Bets[i].Status == "active" || v.round.Bets[i].Status == "lost" {
			v.round.Bets[i].Status = status
		}
	}
}

func (v *viewState) pushRecent(r RecentRound) {
	v.recent = append([]RecentRound{r}, v.recent...)
	if len(v.recent) > recentRounds {
		v.recent = v.recent[:recentRounds]
	}
}

func (v *viewState) snapshot() (*RoundView, []RecentRound) {
	recent := make([]RecentRound, len(v.recent))
	copy(recent, v.recent)
	if v.round == nil {
		return nil, recent
	}
	round := *v.round
	round.Bets = make([]BetView, len(v.round.Bets))
	copy(round.Bets, v.round.Bets)
	return &round, recent
}

func roundOf(p Payload) string {
	switch p := p.(type) {
	case RoundCommitted:
		return p.RoundID
	case BettingOpened:
		return p.RoundID
	case RoundStarted:
		return p.RoundID
	case Tick:
		return p.RoundID
	case BetPlaced:
		return p.RoundID
	case BetCashedOut:
		return p.RoundID
	case RoundCrashed:
		return p.RoundID
	case SeedRevealed:
		return p.RoundID
	case RoundSettled:
		return p.RoundID
	case RoundVoided:
		return p.RoundID
	}
	return ""
}
